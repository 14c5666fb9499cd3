// Package config carries the pipeline's compile-time-style flags as a
// single configuration record, constructed once and passed to
// PlaybackSession at construction instead of scattering #ifdef-like
// switches through the code. Of its fields, only SSRC reaches the
// Sender; TSPacketizer takes no configuration.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RetransmitMode names a NACK-answering policy. Load parses it into
// Pipeline.Retransmit, but rtp.Sender does not read it: HandleTSFB
// always returns the original packets with their sequence numbers,
// whatever the mode, and no side-channel variant exists.
type RetransmitMode int

const (
	// RetransmitOff drops NACKs silently; no retransmission.
	RetransmitOff RetransmitMode = iota
	// RetransmitSameChannel re-emits the original packet on the
	// primary RTP channel, preserving its original sequence number.
	RetransmitSameChannel
	// RetransmitSideChannel emits on a separate retransmission
	// channel with a fresh sequence number and the original sequence
	// inlined into the payload (RFC-XXXX variant).
	RetransmitSideChannel
)

func (m RetransmitMode) String() string {
	switch m {
	case RetransmitOff:
		return "off"
	case RetransmitSameChannel:
		return "same_channel"
	case RetransmitSideChannel:
		return "side_channel"
	default:
		return "unknown"
	}
}

// VideoResolution selects the negotiated capture/encode resolution.
type VideoResolution int

const (
	Resolution720p VideoResolution = iota
	Resolution1080p
)

func (r VideoResolution) String() string {
	if r == Resolution1080p {
		return "1080p"
	}
	return "720p"
}

// DefaultSSRC is the fixed synchronization source used on the wire by
// a WFD source unless overridden per session.
const DefaultSSRC uint32 = 0xDEADBEEF

// Pipeline is the single configuration record threaded through the
// source-side pipeline at construction, replacing a set of compile-time
// #define flags with one value passed down at construction.
type Pipeline struct {
	Retransmit           RetransmitMode
	VideoResolution      VideoResolution
	LogTSToFile          string // empty disables transport-stream file logging
	EnableBandwidthTrace bool
	SSRC                 uint32
}

// DefaultPipeline returns the baseline configuration: retransmission on
// the primary channel, 720p, no TS logging, no bandwidth trace.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Retransmit:      RetransmitSameChannel,
		VideoResolution: Resolution720p,
		SSRC:            DefaultSSRC,
	}
}

// Credentials holds peer-facing secrets unrelated to pipeline
// behavior (none are required by the WFD wire protocol itself, but a
// deployment may gate RTSP access behind them).
type Credentials struct {
	SharedSecret string
}

// Load reads KEY=VALUE pairs from a .env-style file, populating a
// Pipeline plus optional Credentials.
func Load(envPath string) (Pipeline, Credentials, error) {
	cfg := DefaultPipeline()
	var creds Credentials

	file, err := os.Open(envPath)
	if err != nil {
		return cfg, creds, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "retransmit":
			switch value {
			case "off":
				cfg.Retransmit = RetransmitOff
			case "same_channel":
				cfg.Retransmit = RetransmitSameChannel
			case "side_channel":
				cfg.Retransmit = RetransmitSideChannel
			default:
				return cfg, creds, fmt.Errorf("invalid retransmit mode: %s", value)
			}
		case "video_resolution":
			switch value {
			case "720p":
				cfg.VideoResolution = Resolution720p
			case "1080p":
				cfg.VideoResolution = Resolution1080p
			default:
				return cfg, creds, fmt.Errorf("invalid video_resolution: %s", value)
			}
		case "log_ts_to_file":
			cfg.LogTSToFile = value
		case "enable_bandwidth_trace":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return cfg, creds, fmt.Errorf("invalid enable_bandwidth_trace: %w", err)
			}
			cfg.EnableBandwidthTrace = b
		case "ssrc":
			v, err := strconv.ParseUint(value, 0, 32)
			if err != nil {
				return cfg, creds, fmt.Errorf("invalid ssrc: %w", err)
			}
			cfg.SSRC = uint32(v)
		case "shared_secret":
			creds.SharedSecret = value
		}
	}

	if err := scanner.Err(); err != nil {
		return cfg, creds, fmt.Errorf("scan env file: %w", err)
	}

	return cfg, creds, nil
}
