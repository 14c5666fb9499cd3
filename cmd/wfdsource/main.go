package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
	"github.com/ethan/wfd-miracast/pkg/config"
	"github.com/ethan/wfd-miracast/pkg/hdcp"
	"github.com/ethan/wfd-miracast/pkg/logger"
	"github.com/ethan/wfd-miracast/pkg/media"
	"github.com/ethan/wfd-miracast/pkg/netsession"
	"github.com/ethan/wfd-miracast/pkg/rtsp"
)

// patternSource is the thin platform binding's stand-in for an actual
// screen/microphone capture device, which the collaborator interfaces
// in pkg/media deliberately leave abstract. It emits fixed-size frames
// at a steady cadence so the rest of the pipeline has real access
// units to carry end to end.
type patternSource struct {
	codec    au.Codec
	interval time.Duration
	size     int
	nextPTS  int64
	seq      uint32
	closed   chan struct{}
}

func newPatternSource(codec au.Codec, interval time.Duration, size int) *patternSource {
	return &patternSource{codec: codec, interval: interval, size: size, closed: make(chan struct{})}
}

func (p *patternSource) Read() (au.Unit, error) {
	select {
	case <-time.After(p.interval):
	case <-p.closed:
		return au.Unit{}, fmt.Errorf("patternSource: closed")
	}

	payload := make([]byte, p.size)
	binary.BigEndian.PutUint32(payload, p.seq)
	p.seq++

	var flags au.Flags
	if p.codec == au.CodecH264 && p.seq%30 == 1 {
		flags |= au.FlagIDR
	}

	unit := au.New(p.codec, p.nextPTS, flags, payload)
	p.nextPTS += p.interval.Microseconds()
	return unit, nil
}

func (p *patternSource) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

// passthroughEncoder stands in for the host OS's asynchronous encoder
// handle: it queues fed units and returns them unmodified on Drain, so
// the rest of the Converter/PlaybackSession plumbing runs exactly as
// it would against a real hardware encoder.
type passthroughEncoder struct {
	mu      sync.Mutex
	pending []au.Unit
}

func (e *passthroughEncoder) Feed(u au.Unit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, u)
	return nil
}

func (e *passthroughEncoder) Drain() ([]au.Unit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pending
	e.pending = nil
	return out, nil
}

func (e *passthroughEncoder) RequestIDR()      {}
func (e *passthroughEncoder) SignalEOS() error { return nil }
func (e *passthroughEncoder) Close() error     { return nil }

// pcmFrameBytes mirrors pkg/media's fixed 48kHz/stereo/16-bit, 20ms PCM
// frame layout so the pattern source feeds whole frames.
const pcmFrameBytes = 48000 * 2 * 2 * 20 / 1000

// sessionHost wires one connected sink's SourceSession to a
// PlaybackSession: RTSP control on mgr's TCP connection, RTP on a UDP
// socket bound once SETUP negotiates ports.
type sessionHost struct {
	mgr *netsession.Manager
	cfg config.Pipeline
	log *logger.Logger

	rtsp *rtsp.SourceSession
}

func newSessionHost(mgr *netsession.Manager, cfg config.Pipeline, log *logger.Logger, portBase int, sessionID int32, transport rtsp.Transport) *sessionHost {
	h := &sessionHost{mgr: mgr, cfg: cfg, log: log}
	h.rtsp = rtsp.NewSourceSession(sessionID, transport, rtsp.DefaultPortAllocator(portBase))
	h.rtsp.OnPlaying = func() {
		if err := h.startMedia(); err != nil {
			h.log.Error("failed to start media pipeline", "session", sessionID, "error", err)
		}
	}
	return h
}

func (h *sessionHost) startMedia() error {
	serverRTPPort, _, clientRTPPort := h.rtsp.NegotiatedTransport()

	pc, _, err := h.mgr.ListenUDP(fmt.Sprintf(":%d", serverRTPPort))
	if err != nil {
		return fmt.Errorf("bind RTP socket: %w", err)
	}

	conn, ok := h.mgr.Conn(h.rtsp.SessionID)
	if !ok {
		return fmt.Errorf("no tracked control connection for session %d", h.rtsp.SessionID)
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return fmt.Errorf("split remote addr: %w", err)
	}
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, clientRTPPort))
	if err != nil {
		return fmt.Errorf("resolve client RTP address: %w", err)
	}
	pc.SetRemote(remote)

	var oracle hdcp.Oracle
	session := media.NewPlaybackSession(h.cfg, oracle)
	session.OnPackets = func(packets [][]byte) {
		for _, pkt := range packets {
			if err := pc.Send(pkt); err != nil {
				h.log.DebugRTP("RTP send failed", "error", err)
			}
		}
	}
	session.OnSessionDead = func(err error) {
		h.log.Error("playback session failed", "session", h.rtsp.SessionID, "error", err)
	}

	video := media.NewRepeaterSource(newPatternSource(au.CodecH264, time.Second/30, 1400))
	if _, err := session.AddTrack(au.CodecH264, true, video, &passthroughEncoder{}); err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	audio := newPatternSource(au.CodecPCM, 20*time.Millisecond, pcmFrameBytes)
	if _, err := session.AddTrack(au.CodecPCM, false, audio, nil); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}

	session.Start()
	h.log.Info("playback session started", "session", h.rtsp.SessionID)
	return nil
}

func main() {
	fs := flag.NewFlagSet("wfdsource", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	listenAddr := fs.String("listen", ":7236", "RTSP control listen address")
	portBase := fs.Int("rtp-port-base", 15550, "base of the RTP/RTCP port range to allocate from")
	envPath := fs.String("env", ".env", "pipeline configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Wi-Fi Display (Miracast) source\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
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

	cfg := config.DefaultPipeline()
	if loaded, _, err := config.Load(*envPath); err == nil {
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	mgr := netsession.NewManager(30*time.Second, 1.0)
	ln, err := mgr.Listen(ctx, "tcp", *listenAddr)
	if err != nil {
		log.Error("failed to listen", "addr", *listenAddr, "error", err)
		os.Exit(1)
	}
	log.Info("wfdsource listening", "addr", ln.Addr().String())

	transport := rtsp.NewNetSessionTransport(mgr)

	var mu sync.Mutex
	sessions := make(map[int32]*sessionHost)

	reaper := rtsp.NewIdleReaper(30*time.Second, func(sessionID int32) {
		log.Info("reaping idle session", "session", sessionID)
		mu.Lock()
		delete(sessions, sessionID)
		mu.Unlock()
		mgr.Close(sessionID)
	})
	go reaper.Run(ctx)

	// sessionFor lazily constructs a SourceSession the first time a
	// given connection posts a control message, and starts the M1
	// handshake immediately. RunDispatchLoop is the sole consumer of
	// mgr.Messages, so this closure is never called concurrently for
	// distinct sessions in a way that would race the map.
	sessionFor := func(sessionID int32) rtsp.Handler {
		mu.Lock()
		host, ok := sessions[sessionID]
		if !ok {
			host = newSessionHost(mgr, cfg, log, *portBase, sessionID, transport)
			sessions[sessionID] = host
			reaper.Track(sessionID, host.rtsp.LastActivity)
			mu.Unlock()

			if err := host.rtsp.Start(); err != nil {
				log.Error("failed to start RTSP handshake", "session", sessionID, "error", err)
			}
		} else {
			mu.Unlock()
		}
		return host.rtsp
	}

	go rtsp.RunDispatchLoop(ctx, mgr, log.Logger, sessionFor, nil)

	<-ctx.Done()
	log.Info("shutting down")
}
