package logger_test

import (
	"os"

	"github.com/ethan/wfd-miracast/pkg/logger"
)

// Example showing basic logger usage.
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("pipeline started", "version", "1.0.0")
	log.Warn("client rejected unsupported transport", "transport", "RTP/AVP/TCP")
	log.Error("failed to connect", "error", "connection timeout")
}

// Example showing debug category usage.
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRTP)
	cfg.EnableCategory(logger.DebugRTSP)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugRTPPacket(12345, 90000, 33, 1328)
	log.DebugRTSP("M5 trigger received", "method", "SETUP")
}

// Example showing JSON format output.
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "wfd.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("wfd.json")

	log.Info("session started",
		"session_id", "12345",
		"remote_addr", "192.168.1.1",
		"rtp_port", 19000)
}
