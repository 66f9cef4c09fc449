package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel       string
	LogFormat      string
	LogFile        string
	DebugRTSP      bool
	DebugGst       bool
	DebugWebRTC    bool
	DebugSignaling bool
	DebugSession   bool
	DebugAll       bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false,
		"Enable RTSP probe/session debugging")
	fs.BoolVar(&f.DebugGst, "debug-gst", false,
		"Enable media-graph pipeline debugging (element states, tee pads)")
	fs.BoolVar(&f.DebugWebRTC, "debug-webrtc", false,
		"Enable WebRTC debugging (ICE, SDP, connection state)")
	fs.BoolVar(&f.DebugSignaling, "debug-signaling", false,
		"Enable signaling envelope debugging")
	fs.BoolVar(&f.DebugSession, "debug-session", false,
		"Enable session state-machine transition debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugRTSP {
			cfg.EnableCategory(DebugRTSP)
			cfg.Level = LevelDebug
		}
		if f.DebugGst {
			cfg.EnableCategory(DebugGst)
			cfg.Level = LevelDebug
		}
		if f.DebugWebRTC {
			cfg.EnableCategory(DebugWebRTC)
			cfg.Level = LevelDebug
		}
		if f.DebugSignaling {
			cfg.EnableCategory(DebugSignaling)
			cfg.Level = LevelDebug
		}
		if f.DebugSession {
			cfg.EnableCategory(DebugSession)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./camerad -config cameras.yaml

  Enable DEBUG level:
    ./camerad -config cameras.yaml --log-level debug

  Log to file:
    ./camerad -config cameras.yaml --log-file camerad.log

  JSON format for structured logging:
    ./camerad -config cameras.yaml --log-format json -o camerad.json

  Debug the media graph only:
    ./camerad -config cameras.yaml --debug-gst

  Debug multiple categories:
    ./camerad -config cameras.yaml --debug-rtsp --debug-session

  Debug everything:
    ./camerad -config cameras.yaml --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./camerad -config cameras.yaml -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugRTSP {
			debugCategories = append(debugCategories, "rtsp")
		}
		if f.DebugGst {
			debugCategories = append(debugCategories, "gst")
		}
		if f.DebugWebRTC {
			debugCategories = append(debugCategories, "webrtc")
		}
		if f.DebugSignaling {
			debugCategories = append(debugCategories, "signaling")
		}
		if f.DebugSession {
			debugCategories = append(debugCategories, "session")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
