package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/smallsmt/internal/api"
	"github.com/banshee-data/smallsmt/internal/config"
	"github.com/banshee-data/smallsmt/internal/db"
	"github.com/banshee-data/smallsmt/internal/driver"
	"github.com/banshee-data/smallsmt/internal/monitoring"
	"github.com/banshee-data/smallsmt/internal/network"
	"github.com/banshee-data/smallsmt/internal/version"
)

var (
	configPath  = flag.String("config", "", "Driver configuration file (JSON)")
	dbPath      = flag.String("db", "smallsmt.db", "Settings database path")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "localhost:50051", "gRPC health listen address (empty to disable)")
	debug       = flag.Bool("debug", false, "Log frame traces and discarded frames")
	enable      = flag.Bool("enable", false, "Connect and enable the machine at startup")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s [-db path] migrate <up|down|status|force N>\n\nFlags:\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func loadConfig(path string) (*config.DriverConfig, error) {
	if path == "" {
		return config.DefaultDriverConfig(), nil
	}
	return config.LoadDriverConfig(path)
}

// driverConfig maps the configuration file onto the driver's settings.
func driverConfig(cfg *config.DriverConfig) driver.Config {
	return driver.Config{
		Host:            cfg.GetHost(),
		DriverPort:      cfg.GetDriverPort(),
		ListenPort:      cfg.GetListenPort(),
		ResponseTimeout: cfg.GetResponseTimeout(),
		ReceiveTimeout:  cfg.GetReceiveTimeout(),
		JoinTimeout:     cfg.GetListenerJoinTimeout(),
		MaxDispatchTime: cfg.GetMaxDispatchTime(),
		RcvBuf:          cfg.GetReceiveBuffer(),
		StatsInterval:   cfg.GetStatsInterval(),
		PacketStats:     &network.PacketStats{},
	}
}

// initialFeedRate prefers the persisted value over the configuration file.
func initialFeedRate(cfg *config.DriverConfig, store *db.DB) (float64, error) {
	v, ok, err := store.FeedRate()
	if err != nil {
		return 0, err
	}
	if ok {
		return v, nil
	}
	if v, ok := cfg.GetFeedRate(); ok {
		return v, nil
	}
	return 0, nil
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("smallsmt"))
		return
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open settings database: %v", err)
	}
	defer store.Close()

	activity := api.NewActivityCounter()
	drv := driver.New(driverConfig(cfg), driver.WithActivitySink(activity))
	defer drv.Close()

	feedRate, err := initialFeedRate(cfg, store)
	if err != nil {
		log.Fatalf("failed to read feed rate: %v", err)
	}
	if err := drv.SetFeedRate(feedRate); err != nil {
		log.Fatalf("invalid feed rate: %v", err)
	}

	log.Printf("%s: controller %s:%d, listening for responses on %d",
		version.String("smallsmt"), cfg.GetHost(), cfg.GetDriverPort(), cfg.GetListenPort())

	if *enable {
		if err := drv.SetEnabled(true); err != nil {
			log.Printf("failed to enable machine: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// periodic dispatch statistics
	if interval := cfg.GetStatsInterval(); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					drv.Stats().LogStats()
				}
			}
		}()
	}

	// gRPC health service
	if *grpcListen != "" {
		health := api.NewHealth(drv, time.Second)
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", *grpcListen, err)
		}
		srv := grpc.NewServer()
		health.Register(srv)

		wg.Add(1)
		go func() {
			defer wg.Done()
			health.Run(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC health listening on %s", *grpcListen)
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("gRPC server error: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			srv.GracefulStop()
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(drv, store, activity)
		mux := apiServer.ServeMux()

		// mount the admin debugging routes (accessible only locally or over Tailscale)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach settings admin routes: %v", err)
		}
		apiServer.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP API listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	// leave the machine disabled on the way out
	if err := drv.SetEnabled(false); err != nil {
		log.Printf("disable on shutdown: %v", err)
	}
	drv.Stats().LogStats()
	log.Printf("graceful shutdown complete")
}
