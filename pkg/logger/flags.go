package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags.
type Flags struct {
	LogLevel     string
	LogFormat    string
	LogFile      string
	DebugRTSP    bool
	DebugRTP     bool
	DebugTS      bool
	DebugHDCP    bool
	DebugSession bool
	DebugAll     bool
}

// RegisterFlags registers logging flags with the given FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false, "Enable RTSP M1-M16 message debugging")
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable RTP/RTCP packet debugging")
	fs.BoolVar(&f.DebugTS, "debug-ts", false, "Enable transport-stream packetizer debugging")
	fs.BoolVar(&f.DebugHDCP, "debug-hdcp", false, "Enable HDCP encrypt bookkeeping debugging")
	fs.BoolVar(&f.DebugSession, "debug-session", false, "Enable playback session lifecycle debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config.
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
		type toggle struct {
			on  bool
			cat DebugCategory
		}
		for _, t := range []toggle{
			{f.DebugRTSP, DebugRTSP},
			{f.DebugRTP, DebugRTP},
			{f.DebugTS, DebugTS},
			{f.DebugHDCP, DebugHDCP},
			{f.DebugSession, DebugSession},
		} {
			if t.on {
				cfg.EnableCategory(t.cat)
				cfg.Level = LevelDebug
			}
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags.
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./wfdsource

  Enable DEBUG level:
    ./wfdsource --log-level debug

  Log to file:
    ./wfdsource --log-file source.log

  JSON format for structured logging:
    ./wfdsource --log-format json -o source.json

  Debug RTSP handshake only:
    ./wfdsource --debug-rtsp

  Debug everything:
    ./wfdsource --debug-all -o debug.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags.
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
	switch {
	case f.DebugAll:
		debugCategories = append(debugCategories, "all")
	default:
		if f.DebugRTSP {
			debugCategories = append(debugCategories, "rtsp")
		}
		if f.DebugRTP {
			debugCategories = append(debugCategories, "rtp")
		}
		if f.DebugTS {
			debugCategories = append(debugCategories, "ts")
		}
		if f.DebugHDCP {
			debugCategories = append(debugCategories, "hdcp")
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
