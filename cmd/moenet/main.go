package main

import (
	"context"
	"encoding/json"
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

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/mailmindlin/MOEnet-2024/internal/api"
	"github.com/mailmindlin/MOEnet-2024/internal/codec"
	"github.com/mailmindlin/MOEnet-2024/internal/config"
	"github.com/mailmindlin/MOEnet-2024/internal/coproc"
	"github.com/mailmindlin/MOEnet-2024/internal/datalog"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/link"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
	"github.com/mailmindlin/MOEnet-2024/internal/sim"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
	"github.com/mailmindlin/MOEnet-2024/internal/version"
	"github.com/mailmindlin/MOEnet-2024/internal/vision"
)

var (
	configPath   = flag.String("config", "", "Settings file (.json, .yaml or .yml)")
	listen       = flag.String("listen", "", "HTTP listen address (overrides settings)")
	grpcListen   = flag.String("grpc-listen", "", "gRPC health listen address (overrides settings)")
	transport    = flag.String("transport", "", "Transport: memory or nats (overrides settings)")
	natsURL      = flag.String("nats-url", "", "NATS server URL (overrides settings)")
	datalogPath  = flag.String("datalog", "", "Datalog SQLite file (overrides settings)")
	remoteConfig = flag.String("remote-config", "", "Configuration to send to the co-processor (overrides settings)")
	simulate     = flag.Bool("sim", false, "Run a simulated co-processor in-process (memory transport only)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// loadSettings reads the settings file, or returns empty settings when no
// file is given.
func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return &config.Settings{}, nil
	}
	return config.LoadSettings(path)
}

// applyFlags overrides s with every flag that was set.
func applyFlags(s *config.Settings) error {
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&s.Listen, *listen)
	set(&s.GRPCListen, *grpcListen)
	set(&s.Transport, *transport)
	set(&s.NATSURL, *natsURL)
	set(&s.DatalogPath, *datalogPath)
	set(&s.RemoteConfig, *remoteConfig)
	if err := s.Validate(); err != nil {
		return err
	}
	if *simulate && s.GetTransport() != config.TransportMemory {
		return errors.New("-sim requires the memory transport")
	}
	return nil
}

// loadRemoteConfig reads a co-processor configuration request.
func loadRemoteConfig(path string) (*link.RemoteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote config: %w", err)
	}
	var rc link.RemoteConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("failed to parse remote config: %w", err)
	}
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote config: %w", err)
	}
	return &rc, nil
}

func openStore(ctx context.Context, s *config.Settings, c timeutil.Clock) (nt.Store, error) {
	switch s.GetTransport() {
	case config.TransportNATS:
		dialCtx, cancel := context.WithTimeout(ctx, s.GetNATSTimeout())
		defer cancel()
		return nt.DialNATS(dialCtx, nt.NATSOptions{
			URL:     s.GetNATSURL(),
			Bucket:  s.GetNATSBucket(),
			Name:    "moenet-rio",
			Timeout: s.GetNATSTimeout(),
			Clock:   c,
		})
	default:
		return nt.NewMemoryStore(c), nil
	}
}

// Main
func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("moenet %s\n", version.String())
		return
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if err := applyFlags(settings); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}
	log.Printf("moenet %s starting: transport=%s tables=%v", version.Version, settings.GetTransport(), settings.GetTables())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings); err != nil {
		log.Fatalf("moenet: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func run(ctx context.Context, settings *config.Settings) error {
	clk := timeutil.RealClock{}
	store, err := openStore(ctx, settings, clk)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", settings.GetTransport(), err)
	}
	defer store.Close()

	b := vision.NewBuilder().
		SetStore(store).
		SetName("moenet").
		SetClock(clk).
		SetMetrics(prometheus.DefaultRegisterer)
	for _, table := range settings.GetTables() {
		b.AddLink(table)
	}

	var db *datalog.DB
	if path := settings.GetDatalogPath(); path != "" {
		db, err = datalog.Open(path, "moenet "+version.Version)
		if err != nil {
			return fmt.Errorf("failed to open datalog: %w", err)
		}
		defer db.Close()
		log.Printf("datalog %s session %s", path, db.Session())
		poseLog, err := datalog.NewStructEntry[geom.Pose3D](db, "vision/pose", codec.Pose3DStruct{})
		if err != nil {
			return fmt.Errorf("failed to open pose log: %w", err)
		}
		b.SetLog(db).SetPoseLog(poseLog)
	}

	v, err := b.Build()
	if err != nil {
		return err
	}
	defer func() {
		if err := v.Close(); err != nil {
			log.Printf("failed to close links: %v", err)
		}
	}()

	if path := settings.GetRemoteConfig(); path != "" {
		rc, err := loadRemoteConfig(path)
		if err != nil {
			return err
		}
		for _, l := range v.Links() {
			if err := l.SetConfig(rc); err != nil {
				log.Printf("%s: failed to send config: %v", l.Name(), err)
			}
		}
	}

	var sims []*sim.Simulator
	if *simulate {
		for i, table := range settings.GetTables() {
			s, err := sim.New(coproc.New(store, table), clk, int64(i))
			if err != nil {
				return err
			}
			sims = append(sims, s)
		}
	}

	health := api.NewHealth(v.Links())

	// Set up everything that can fail before the goroutines start.
	lis, err := net.Listen("tcp", settings.GetGRPCListen())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", settings.GetGRPCListen(), err)
	}
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	mux := api.NewServer(v, prometheus.DefaultGatherer).ServeMux()
	if db != nil {
		if err := db.AttachAdminRoutes(mux); err != nil {
			lis.Close()
			return err
		}
	}
	server := &http.Server{
		Addr:              settings.GetListen(),
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup

	// tick routine drives the links
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clk.NewTicker(settings.GetTickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				for _, s := range sims {
					if err := s.Step(); err != nil {
						log.Printf("simulator step failed: %v", err)
					}
				}
				v.Periodic()
				health.Update()
			case <-ctx.Done():
				log.Printf("tick routine terminated")
				return
			}
		}
	}()

	// gRPC health server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("gRPC health server listening on %s", lis.Addr())
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
		<-ctx.Done()
		health.Shutdown()
		grpcServer.GracefulStop()
		log.Printf("gRPC server stopped")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	return nil
}
