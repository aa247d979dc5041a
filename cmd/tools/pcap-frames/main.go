// Command pcap-frames decodes captured SmallSMT driver traffic. Request
// frames sent to the controller and response frames sent back are printed in
// capture order, followed by a round-trip summary per packet id.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/smallsmt/internal/protocol"
)

// Config selects which UDP ports carry driver traffic.
type Config struct {
	DriverPort int
	ListenPort int
	Quiet      bool // summary only
}

// Summary is the outcome of scanning one capture.
type Summary struct {
	Packets      int
	Requests     int
	Terminals    int
	Provisionals int
	Fatal        int
	Malformed    int
	Unanswered   []uint32
	RoundTrips   []float64 // ms, request to terminal response
}

type pending struct {
	sent time.Time
	cmd  protocol.Command
}

// scan reads a pcap stream and writes one line per decoded frame to out.
func scan(r io.Reader, cfg Config, out io.Writer) (*Summary, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}

	sum := &Summary{}
	inFlight := make(map[uint32]pending)
	printf := func(format string, v ...interface{}) {
		if !cfg.Quiet {
			fmt.Fprintf(out, format, v...)
		}
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	for packet := range source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if len(udp.Payload) == 0 {
			continue
		}
		ts := packet.Metadata().Timestamp
		payload := string(udp.Payload)

		switch int(udp.DstPort) {
		case cfg.DriverPort:
			sum.Packets++
			id, cmd, err := protocol.DecodeRequest(payload)
			if err != nil {
				sum.Malformed++
				printf("%s  -> malformed request %q\n", ts.Format(time.RFC3339Nano), payload)
				continue
			}
			sum.Requests++
			inFlight[id] = pending{sent: ts, cmd: cmd}
			printf("%s  -> #%d %s\n", ts.Format(time.RFC3339Nano), id, cmd)

		case cfg.ListenPort:
			sum.Packets++
			id, err := protocol.ResponsePacketID(payload)
			var resp protocol.Response
			if err == nil {
				resp, err = protocol.Decode(payload, id)
			}
			if err != nil {
				sum.Malformed++
				printf("%s  <- malformed response %q\n", ts.Format(time.RFC3339Nano), payload)
				continue
			}
			if resp.Fatal() {
				sum.Fatal++
			}
			if resp.Provisional {
				sum.Provisionals++
				printf("%s  <- #%d provisional status %d\n", ts.Format(time.RFC3339Nano), id, resp.Status)
				continue
			}
			sum.Terminals++
			rtt := ""
			if p, ok := inFlight[id]; ok {
				ms := float64(ts.Sub(p.sent).Microseconds()) / 1000
				sum.RoundTrips = append(sum.RoundTrips, ms)
				rtt = fmt.Sprintf(" after %.3fms (%s)", ms, p.cmd.Verb)
				delete(inFlight, id)
			}
			printf("%s  <- #%d status %d value %s%s\n", ts.Format(time.RFC3339Nano), id, resp.Status, formatValue(resp.Value), rtt)
		}
	}

	for id := range inFlight {
		sum.Unanswered = append(sum.Unanswered, id)
	}
	sort.Slice(sum.Unanswered, func(i, j int) bool { return sum.Unanswered[i] < sum.Unanswered[j] })
	return sum, nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%g", v)
}

func printSummary(w io.Writer, s *Summary) {
	fmt.Fprintf(w, "\n%d datagrams: %d requests, %d terminal, %d provisional, %d fatal, %d malformed\n",
		s.Packets, s.Requests, s.Terminals, s.Provisionals, s.Fatal, s.Malformed)
	if len(s.Unanswered) > 0 {
		fmt.Fprintf(w, "unanswered packet ids: %v\n", s.Unanswered)
	}
	if len(s.RoundTrips) == 0 {
		return
	}
	sorted := append([]float64(nil), s.RoundTrips...)
	sort.Float64s(sorted)
	fmt.Fprintf(w, "round trip ms: mean %.3f  p50 %.3f  p95 %.3f  max %.3f\n",
		stat.Mean(sorted, nil),
		stat.Quantile(0.5, stat.Empirical, sorted, nil),
		stat.Quantile(0.95, stat.Empirical, sorted, nil),
		sorted[len(sorted)-1])
}

func main() {
	pcapFile := flag.String("pcap", "", "Capture file (pcap format)")
	driverPort := flag.Int("driver-port", 9070, "Controller command port")
	listenPort := flag.Int("listen-port", 9072, "Driver response port")
	quiet := flag.Bool("quiet", false, "Print the summary only")
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("-pcap is required")
	}
	f, err := os.Open(*pcapFile)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *pcapFile, err)
	}
	defer f.Close()

	sum, err := scan(f, Config{DriverPort: *driverPort, ListenPort: *listenPort, Quiet: *quiet}, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	printSummary(os.Stdout, sum)
}
