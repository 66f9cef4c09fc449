// Command camerad is the multi-camera RTSP ingestion and WebRTC
// distribution node: it loads a declarative camera list, probes and
// decodes each source, builds a per-camera hardware-accelerated encode
// pipeline, and serves viewers over WebSocket signaling + WebRTC.
//
// Grounded on camsRelay's cmd/relay/main.go: flag.FlagSet +
// logger.RegisterFlags, signal.Notify graceful shutdown, ordered component
// construction. The Nest/Cloudflare wiring is replaced by CameraManager +
// the signaling Hub + a plain net/http upgrade mux.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lattice-edge/camerad/pkg/camera"
	"github.com/lattice-edge/camerad/pkg/config"
	"github.com/lattice-edge/camerad/pkg/logger"
	"github.com/lattice-edge/camerad/pkg/signaling"
)

const shutdownGrace = 5 * time.Second

func main() {
	fs := flag.NewFlagSet("camerad", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	configPath := fs.String("config", "cameras.yaml", "Path to the declarative camera configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Multi-camera RTSP ingestion and WebRTC distribution node\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting camerad")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "cameras", len(cfg.Cameras), "listen_addr", cfg.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	mgr := camera.NewManager(log.Logger)
	for _, camCfg := range cfg.Cameras {
		if err := mgr.Add(camCfg); err != nil {
			log.Error("failed to register camera", "camera", camCfg.Name, "error", err)
			os.Exit(1)
		}
	}

	log.Info("probing cameras")
	mgr.StartAll(ctx)

	hub := signaling.NewHub(log.Logger)
	hub.Dispatch = func(room, clientID string, env signaling.Envelope) {
		mgr.Dispatch(room, clientID, env, func(out signaling.Envelope) {
			hub.Send(room, clientID, out)
		})
	}
	go hub.Run()

	mux := http.NewServeMux()
	mux.Handle("/", hub)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Info("signaling endpoint listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("signaling endpoint stopped", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("signaling endpoint shutdown error", "error", err)
	}

	mgr.StopAll()
	log.Info("camerad stopped")
}
