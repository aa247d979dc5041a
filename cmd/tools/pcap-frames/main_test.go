package main

import (
	"bytes"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/smallsmt/internal/protocol"
)

type datagram struct {
	at      time.Duration
	dstPort uint16
	payload string
}

// writeCapture builds an Ethernet pcap holding one UDP packet per datagram.
func writeCapture(t *testing.T, datagrams []datagram) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(127, 0, 0, 1),
			DstIP:    net.IPv4(127, 0, 0, 1),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(d.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(d.payload)))

		data := sb.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: base.Add(d.at), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return &buf
}

func TestScan(t *testing.T) {
	nan := math.NaN()
	capture := writeCapture(t, []datagram{
		{0, 9070, string(protocol.Encode(1, protocol.SetEnabled(false)))},
		{1 * time.Millisecond, 9072, protocol.FormatProvisional(1, 0)},
		{5 * time.Millisecond, 9072, protocol.FormatTerminal(1, 0, nan, protocol.Axes{})},
		{10 * time.Millisecond, 9070, string(protocol.Encode(2, protocol.Pick("N1")))},
		{11 * time.Millisecond, 9072, "garbage"},
		{20 * time.Millisecond, 9072, protocol.FormatTerminal(2, -1, nan, protocol.Axes{X: 3})},
		{30 * time.Millisecond, 53, "dns"},
		{40 * time.Millisecond, 9070, string(protocol.Encode(3, protocol.Home()))},
	})

	var out bytes.Buffer
	sum, err := scan(capture, Config{DriverPort: 9070, ListenPort: 9072}, &out)
	require.NoError(t, err)

	assert.Equal(t, 7, sum.Packets)
	assert.Equal(t, 3, sum.Requests)
	assert.Equal(t, 2, sum.Terminals)
	assert.Equal(t, 1, sum.Provisionals)
	assert.Equal(t, 1, sum.Fatal)
	assert.Equal(t, 1, sum.Malformed)
	assert.Equal(t, []uint32{3}, sum.Unanswered)
	assert.Equal(t, []float64{5, 10}, sum.RoundTrips)

	text := out.String()
	assert.Contains(t, text, "-> #2 pick(N1)")
	assert.Contains(t, text, "<- #2 status -1 value nan after 10.000ms (pick)")
	assert.Contains(t, text, `malformed response "garbage"`)
	assert.NotContains(t, text, "dns")

	var summary bytes.Buffer
	printSummary(&summary, sum)
	assert.Contains(t, summary.String(), "unanswered packet ids: [3]")
	assert.Contains(t, summary.String(), "max 10.000")
}

func TestScan_Quiet(t *testing.T) {
	capture := writeCapture(t, []datagram{
		{0, 9070, string(protocol.Encode(1, protocol.Home()))},
	})
	var out bytes.Buffer
	sum, err := scan(capture, Config{DriverPort: 9070, ListenPort: 9072, Quiet: true}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Requests)
	assert.Empty(t, out.String())
}

func TestScan_NotACapture(t *testing.T) {
	_, err := scan(strings.NewReader("not a pcap"), Config{DriverPort: 9070, ListenPort: 9072}, &bytes.Buffer{})
	assert.Error(t, err)
}
