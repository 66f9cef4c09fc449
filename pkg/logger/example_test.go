package logger_test

import (
	"fmt"
	"os"

	"github.com/lattice-edge/camerad/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("camerad started", "version", "1.0.0")
	log.Warn("camera probe slow", "camera", "front_door")
	log.Error("failed to connect", "camera", "driveway", "error", "connection timeout")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRTSP)
	cfg.EnableCategory(logger.DebugGst)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugRTPPacket(12345, 90000, 96, 1200)
	log.DebugPipelineState("h264enc0", "READY", "PLAYING")

	log.DebugRTSP("describe response received", "camera", "front_door")
	log.DebugGst("tee pad requested", "pad", "src_0")
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/lattice-edge/camerad/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("camerad", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/camerad/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "camerad.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("camerad.json")

	log.Info("viewer connected",
		"camera", "front_door",
		"client_id", "C1")

	// Output will be in JSON format:
	// {"time":"...","level":"INFO","msg":"viewer connected","camera":"front_door","client_id":"C1"}
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugSession)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Category methods check enablement internally; zero cost if disabled.
	log.DebugSession("state transition", "from", "NEGOTIATING", "to", "CONNECTED")
	log.DebugSignaling("envelope dropped", "reason", "missing client_id")
}
