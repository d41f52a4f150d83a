// Command moenet-sim runs a synthetic co-processor against a NATS bucket so
// the controller side can be exercised without camera hardware.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailmindlin/MOEnet-2024/internal/config"
	"github.com/mailmindlin/MOEnet-2024/internal/coproc"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
	"github.com/mailmindlin/MOEnet-2024/internal/sim"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
	"github.com/mailmindlin/MOEnet-2024/internal/version"
)

var (
	configPath = flag.String("config", "", "Settings file shared with moenet (.json, .yaml or .yml)")
	table      = flag.String("table", "moenet", "Table to publish on")
	interval   = flag.Duration("interval", 50*time.Millisecond, "Publish interval")
	radius     = flag.Float64("radius", 2.0, "Radius of the simulated path in metres")
	speed      = flag.Float64("speed", 1.0, "Speed along the simulated path in m/s")
	seed       = flag.Int64("seed", 1, "Random seed for detections")
)

func main() {
	flag.Parse()

	settings := &config.Settings{}
	if *configPath != "" {
		var err error
		if settings, err = config.LoadSettings(*configPath); err != nil {
			log.Fatalf("failed to load settings: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, settings.GetNATSTimeout())
	clk := timeutil.RealClock{}
	store, err := nt.DialNATS(dialCtx, nt.NATSOptions{
		URL:     settings.GetNATSURL(),
		Bucket:  settings.GetNATSBucket(),
		Name:    "moenet-sim",
		Timeout: settings.GetNATSTimeout(),
		Clock:   clk,
	})
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", settings.GetNATSURL(), err)
	}
	defer store.Close()

	client := coproc.New(store, *table)
	s, err := sim.New(client, clk, *seed)
	if err != nil {
		log.Fatalf("failed to create simulator: %v", err)
	}
	s.TrackRadius = *radius
	s.TrackSpeedMPS = *speed
	log.Printf("moenet-sim %s: co-processor %s on %s/%s", version.String(), client.ID(), settings.GetNATSBucket(), *table)

	ticker := clk.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			if err := s.Step(); err != nil {
				log.Printf("step failed: %v", err)
			}
		case <-ctx.Done():
			log.Printf("simulator stopped")
			return
		}
	}
}
