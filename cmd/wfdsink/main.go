package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethan/wfd-miracast/pkg/logger"
	"github.com/ethan/wfd-miracast/pkg/netsession"
	"github.com/ethan/wfd-miracast/pkg/rtpsink"
	"github.com/ethan/wfd-miracast/pkg/rtsp"
	"github.com/ethan/wfd-miracast/pkg/ts"
)

// tunnelStats counts reassembled transport-stream traffic per PID; a
// real deployment would hand each ts.Packet to a demuxer and decoder
// instead, but displaying decoded video is outside what this binary
// drives.
type tunnelStats struct {
	mu       sync.Mutex
	byPID    map[uint16]uint64
	packets  uint64
	payloads uint64
}

func newTunnelStats() *tunnelStats {
	return &tunnelStats{byPID: make(map[uint16]uint64)}
}

func (s *tunnelStats) observe(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads++
	for len(payload) >= ts.PacketSize {
		var pkt ts.Packet
		copy(pkt[:], payload[:ts.PacketSize])
		s.byPID[pkt.PID()]++
		s.packets++
		payload = payload[ts.PacketSize:]
	}
}

func (s *tunnelStats) snapshot() (packets, payloads uint64, byPID map[uint16]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint16]uint64, len(s.byPID))
	for pid, n := range s.byPID {
		out[pid] = n
	}
	return s.packets, s.payloads, out
}

// sinkHost wires a connected SinkSession to a rtpsink.Receiver once the
// source's PLAY response lands: it binds a UDP socket to the client
// RTP port the sink advertised in SETUP (where the source sends RTP)
// and demultiplexes incoming RTP into reassembled transport-stream
// payloads.
type sinkHost struct {
	mgr   *netsession.Manager
	log   *logger.Logger
	sink  *rtsp.SinkSession
	stats *tunnelStats

	receiver *rtpsink.Receiver
	rtpPCID  atomic.Int32 // 0 until startMedia binds the RTP socket
}

func (h *sinkHost) startMedia() error {
	rtpPort := h.sink.Params.ClientRTPPort

	pc, id, err := h.mgr.ListenUDP(fmt.Sprintf(":%d", rtpPort))
	if err != nil {
		return fmt.Errorf("bind RTP socket: %w", err)
	}
	_ = pc
	h.rtpPCID.Store(id)

	h.log.Info("media socket bound", "session", h.sink.SessionID, "port", rtpPort)
	return nil
}

// handleData is RunDispatchLoop's dataHandler: it routes KindData
// messages from the bound RTP socket into the Receiver, counting
// whatever comes out the other side of reordering.
func (h *sinkHost) handleData(sessionID int32, channel byte, payload []byte) {
	if sessionID != h.rtpPCID.Load() {
		return
	}
	ready, _, ssrc, err := h.receiver.HandleRTP(payload, time.Now())
	if err != nil {
		h.log.DebugRTP("dropping malformed RTP packet", "error", err)
		return
	}
	for _, out := range ready {
		h.stats.observe(out)
	}
	_ = ssrc
}

func main() {
	fs := flag.NewFlagSet("wfdsink", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	sourceAddr := fs.String("source", "127.0.0.1:7236", "source RTSP control address to dial")
	uri := fs.String("uri", "rtsp://localhost/wfd1.0/streamid=0", "presentation URI to request")
	clientRTPPort := fs.Int("client-rtp-port", 19000, "local RTP port to advertise in SETUP")
	statsInterval := fs.Duration("stats-interval", 5*time.Second, "how often to log tunnel stats")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Wi-Fi Display (Miracast) sink\n\n")
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
	conn, sessionID, err := mgr.DialWithRetry(ctx, "tcp", *sourceAddr)
	if err != nil {
		log.Error("failed to dial source", "addr", *sourceAddr, "error", err)
		os.Exit(1)
	}
	log.Info("connected to source", "addr", conn.RemoteAddr().String())

	params := rtsp.SinkParams{
		VideoFormats:      "00 00 02 10 00001000 00000000 00000000 00 0000 0000 00 none none",
		AudioCodecs:       "LPCM 00000002 00",
		ClientRTPPort:     int32(*clientRTPPort),
		ContentProtection: "none",
	}
	sink := rtsp.NewSinkSession(sessionID, rtsp.NewNetSessionTransport(mgr), *uri, params)

	host := &sinkHost{mgr: mgr, log: log, sink: sink, stats: newTunnelStats(), receiver: rtpsink.NewReceiver(0)}
	host.receiver.OnLateness = func(ssrc uint32, latenessMs float32) {
		log.DebugRTP("lateness sample", "ssrc", ssrc, "lateness_ms", latenessMs)
	}
	sink.OnPlaying = func() {
		if err := host.startMedia(); err != nil {
			log.Error("failed to start media pipeline", "error", err)
		}
	}
	sink.Start()

	go rtsp.RunDispatchLoop(ctx, mgr, log.Logger, func(id int32) rtsp.Handler {
		if id != sessionID {
			return nil
		}
		return sink
	}, host.handleData)

	ticker := time.NewTicker(*statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			packets, payloads, byPID := host.stats.snapshot()
			log.Info("tunnel stats", "ts_packets", packets, "reassembled_payloads", payloads, "pid_count", len(byPID))
		}
	}
}
