package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/smallsmt/internal/monitoring"
	"github.com/banshee-data/smallsmt/internal/simulator"
	"github.com/banshee-data/smallsmt/internal/version"
)

var (
	address      = flag.String("address", "127.0.0.1:9070", "Address to receive request frames on")
	replyTo      = flag.String("reply-to", "127.0.0.1:9072", "Address responses are sent to")
	provisionals = flag.Int("provisionals", 0, "Provisional responses sent before every terminal response")
	delay        = flag.Duration("delay", 50*time.Millisecond, "Delay before each provisional response")
	debug        = flag.Bool("debug", false, "Log every request")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("smallsmt-sim"))
		return
	}
	if *provisionals < 0 {
		log.Fatal("-provisionals must be >= 0")
	}
	monitoring.SetDebug(*debug)

	sim := simulator.New(simulator.Config{
		Address:          *address,
		ReplyTo:          *replyTo,
		Provisionals:     *provisionals,
		ProvisionalDelay: *delay,
	})
	if err := sim.Listen(); err != nil {
		log.Fatalf("failed to start simulator: %v", err)
	}
	defer sim.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("simulated controller on %s, replying to %s", sim.Addr(), *replyTo)
	if err := sim.Run(ctx); err != nil {
		log.Printf("simulator stopped: %v", err)
	}
	log.Printf("served %d requests", len(sim.Requests()))
}
