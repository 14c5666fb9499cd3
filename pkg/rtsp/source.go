package rtsp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceState is one state of the WFD source-side RTSP state machine,
// matching WifiDisplaySource::State verbatim.
type SourceState int

const (
	StateInitialized SourceState = iota
	StateAwaitingClientConnection
	StateAwaitingClientSetup
	StateAwaitingClientPlay
	StateAboutToPlay
	StatePlaying
	StateAwaitingClientTeardown
	StateStopping
	StateStopped
)

func (s SourceState) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateAwaitingClientConnection:
		return "AWAITING_CLIENT_CONNECTION"
	case StateAwaitingClientSetup:
		return "AWAITING_CLIENT_SETUP"
	case StateAwaitingClientPlay:
		return "AWAITING_CLIENT_PLAY"
	case StateAboutToPlay:
		return "ABOUT_TO_PLAY"
	case StatePlaying:
		return "PLAYING"
	case StateAwaitingClientTeardown:
		return "AWAITING_CLIENT_TEARDOWN"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Transport sends a serialized RTSP message to the peer on one
// session's connection. Implementations own the TCP socket (or the
// interleaved framer wrapping it) and are not expected to block.
type Transport interface {
	Send(sessionID int32, data []byte) error
}

// PortAllocator returns a free server-side RTP/RTCP port pair, trying
// successive candidates (15550+2k in the default implementation)
// until one binds.
type PortAllocator func() (rtpPort, rtcpPort int, err error)

// clientNegotiation accumulates what M3/M6 learn about the connected
// sink: its advertised formats and the transport it asked for.
type clientNegotiation struct {
	playbackSessionID int32
	videoFormats      string
	audioCodecs       string
	clientRTPPort     int32
	usingPCMAudio     bool
	sessionHeader     string
	serverRTPPort     int
	serverRTCPPort    int
}

// SourceSession drives one connected sink through the WFD handshake
// (M1, M3, M4, M5) and the client-originated requests that complete
// it (M6 SETUP, M7 PLAY, and the M8-M15 round trips), exactly as
// WifiDisplaySource does for a single ClientInfo.
type SourceSession struct {
	SessionID int32
	Transport Transport
	PortAlloc PortAllocator

	// SessionTimeoutSecs governs the Session header's timeout
	// parameter and the M16 keep-alive cadence (scheduled at half
	// this value).
	SessionTimeoutSecs int32

	// OnPlaying is invoked once the client's PLAY request has been
	// accepted and the session has entered StatePlaying.
	OnPlaying func()

	state    SourceState
	nextCSeq int32
	resp     responseTable
	client   clientNegotiation

	lastActivity time.Time
}

// NewSourceSession returns a SourceSession in StateInitialized. A nil
// PortAlloc falls back to DefaultPortAllocator.
func NewSourceSession(sessionID int32, transport Transport, portAlloc PortAllocator) *SourceSession {
	if portAlloc == nil {
		portAlloc = DefaultPortAllocator(15550)
	}
	return &SourceSession{
		SessionID:          sessionID,
		Transport:          transport,
		PortAlloc:          portAlloc,
		SessionTimeoutSecs: 30,
		state:              StateInitialized,
		resp:               newResponseTable(),
	}
}

// State returns the session's current state.
func (s *SourceSession) State() SourceState { return s.state }

// LastActivity returns the time of the most recently processed
// message, for reaper idle-timeout comparisons.
func (s *SourceSession) LastActivity() time.Time { return s.lastActivity }

func (s *SourceSession) touch() { s.lastActivity = time.Now() }

func (s *SourceSession) allocCSeq() int32 {
	s.nextCSeq++
	return s.nextCSeq
}

func (s *SourceSession) send(req *Request) error {
	if err := s.Transport.Send(s.SessionID, req.Serialize()); err != nil {
		return fmt.Errorf("rtsp: send %s: %w", req.Method, err)
	}
	return nil
}

// Start begins the handshake on a freshly accepted connection: sends
// M1 and enters StateAwaitingClientConnection.
func (s *SourceSession) Start() error {
	if s.state != StateInitialized {
		return fmt.Errorf("rtsp: Start called in state %s", s.state)
	}
	if err := s.sendM1(); err != nil {
		return err
	}
	s.state = StateAwaitingClientConnection
	return nil
}

func (s *SourceSession) sendM1() error {
	cseq := s.allocCSeq()
	req := NewRequest("OPTIONS", "*", cseq)
	req.Header["Require"] = "org.wfa.wfd1.0"
	s.resp.register(s.SessionID, cseq, s.onReceiveM1Response)
	return s.send(req)
}

func (s *SourceSession) onReceiveM1Response(msg *Message) error {
	code, ok := msg.StatusCode()
	if !ok || code != 200 {
		return fmt.Errorf("rtsp: M1 response status %d", code)
	}
	return s.sendM3()
}

func (s *SourceSession) sendM3() error {
	cseq := s.allocCSeq()
	req := NewRequest("GET_PARAMETER", "rtsp://localhost/wfd1.0", cseq)
	req.Header["Content-Type"] = "text/parameters"
	req.Body = []byte("wfd_video_formats\r\nwfd_audio_codecs\r\nwfd_client_rtp_ports\r\nwfd_content_protection\r\n")
	s.resp.register(s.SessionID, cseq, s.onReceiveM3Response)
	return s.send(req)
}

func (s *SourceSession) onReceiveM3Response(msg *Message) error {
	code, ok := msg.StatusCode()
	if !ok || code != 200 {
		return fmt.Errorf("rtsp: M3 response status %d", code)
	}

	body := string(msg.Body)
	for _, line := range strings.Split(body, "\r\n") {
		line = strings.TrimSpace(line)
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		switch key {
		case "wfd_video_formats":
			s.client.videoFormats = value
		case "wfd_audio_codecs":
			s.client.audioCodecs = value
			s.client.usingPCMAudio = strings.Contains(value, "LPCM")
		case "wfd_client_rtp_ports":
			s.client.clientRTPPort = parseClientRTPPort(value)
		}
	}

	return s.sendM4()
}

// parseClientRTPPort extracts the port from a
// "RTP/AVP/UDP;unicast <port> 0 mode=play" style value.
func parseClientRTPPort(value string) int32 {
	fields := strings.Fields(value)
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil {
			return int32(n)
		}
	}
	return 0
}

func (s *SourceSession) sendM4() error {
	cseq := s.allocCSeq()
	req := NewRequest("SET_PARAMETER", "rtsp://localhost/wfd1.0", cseq)
	req.Header["Content-Type"] = "text/parameters"

	var body strings.Builder
	fmt.Fprintf(&body, "wfd_video_formats: %s\r\n", s.client.videoFormats)
	fmt.Fprintf(&body, "wfd_audio_codecs: %s\r\n", s.client.audioCodecs)
	fmt.Fprintf(&body, "wfd_presentation_URL: rtsp://localhost/wfd1.0/streamid=0 none\r\n")
	req.Body = []byte(body.String())

	s.resp.register(s.SessionID, cseq, s.onReceiveM4Response)
	s.state = StateAwaitingClientSetup
	return s.send(req)
}

func (s *SourceSession) onReceiveM4Response(msg *Message) error {
	code, ok := msg.StatusCode()
	if !ok || code != 200 {
		return fmt.Errorf("rtsp: M4 response status %d", code)
	}
	return s.sendM5(false)
}

func (s *SourceSession) sendM5(requestShutdown bool) error {
	cseq := s.allocCSeq()
	req := NewRequest("SET_PARAMETER", "rtsp://localhost/wfd1.0", cseq)
	req.Header["Content-Type"] = "text/parameters"

	method := "SETUP"
	if requestShutdown {
		method = "TEARDOWN"
	}
	req.Body = []byte(fmt.Sprintf("wfd_trigger_method: %s\r\n", method))

	s.resp.register(s.SessionID, cseq, s.onReceiveM5Response)
	return s.send(req)
}

func (s *SourceSession) onReceiveM5Response(msg *Message) error {
	code, ok := msg.StatusCode()
	if !ok || code != 200 {
		return fmt.Errorf("rtsp: M5 response status %d", code)
	}
	return nil
}

func (s *SourceSession) sendM16() error {
	cseq := s.allocCSeq()
	req := NewRequest("GET_PARAMETER", "rtsp://localhost/wfd1.0", cseq)
	req.Header["Session"] = s.client.sessionHeader
	s.resp.register(s.SessionID, cseq, s.onReceiveM16Response)
	return s.send(req)
}

func (s *SourceSession) onReceiveM16Response(*Message) error {
	s.touch()
	return nil
}

// HandleMessage routes one parsed RTSP message: a response is
// dispatched to its registered CSeq handler, a request is dispatched
// by method to the matching onXRequest handler.
func (s *SourceSession) HandleMessage(msg *Message) error {
	s.touch()

	if msg.IsResponse() {
		cseq, ok := msg.CSeq()
		if !ok {
			return fmt.Errorf("rtsp: response missing CSeq")
		}
		return s.resp.dispatch(s.SessionID, cseq, msg)
	}

	cseq, _ := msg.CSeq()

	switch msg.Method() {
	case "OPTIONS":
		return s.onOptionsRequest(cseq)
	case "SETUP":
		return s.onSetupRequest(cseq, msg)
	case "PLAY":
		return s.onPlayRequest(cseq)
	case "PAUSE":
		return s.onPauseRequest(cseq)
	case "TEARDOWN":
		return s.onTeardownRequest(cseq)
	case "GET_PARAMETER":
		return s.onGetParameterRequest(cseq, msg)
	case "SET_PARAMETER":
		return s.onSetParameterRequest(cseq, msg)
	default:
		resp := NewResponse(cseq)
		resp.StatusCode = 400
		return s.send1(resp)
	}
}

func (s *SourceSession) send1(resp *Response) error {
	return s.Transport.Send(s.SessionID, resp.Serialize())
}

// onOptionsRequest answers the sink's symmetric M2 OPTIONS.
func (s *SourceSession) onOptionsRequest(cseq int32) error {
	resp := NewResponse(cseq)
	resp.Header["Public"] = "org.wfa.wfd1.0, GET_PARAMETER, SET_PARAMETER"
	return s.send1(resp)
}

// onSetupRequest handles M6: negotiates the transport, allocates
// server-side RTP/RTCP ports, and transitions to
// StateAwaitingClientPlay.
func (s *SourceSession) onSetupRequest(cseq int32, msg *Message) error {
	if s.state != StateAwaitingClientSetup {
		resp := NewResponse(cseq)
		resp.StatusCode = 455
		return s.send1(resp)
	}

	transport, _ := msg.Get("Transport")

	rtpPort, rtcpPort, err := s.PortAlloc()
	if err != nil {
		resp := NewResponse(cseq)
		resp.StatusCode = 461
		_ = s.send1(resp)
		return fmt.Errorf("rtsp: allocate server ports: %w", err)
	}
	s.client.serverRTPPort = rtpPort
	s.client.serverRTCPPort = rtcpPort
	s.client.playbackSessionID = s.SessionID

	s.client.sessionHeader = fmt.Sprintf("%010X", uint32(s.SessionID)*2654435761)

	resp := NewResponse(cseq)
	resp.Header["Session"] = fmt.Sprintf("%s;timeout=%d", s.client.sessionHeader, s.SessionTimeoutSecs)
	resp.Header["Transport"] = fmt.Sprintf("%s;server_port=%d-%d", transport, rtpPort, rtcpPort)

	if err := s.send1(resp); err != nil {
		return err
	}

	s.state = StateAwaitingClientPlay
	return nil
}

// onPlayRequest handles M7: accepts PLAY and enters StatePlaying. It
// does not schedule M16 keep-alive; StartKeepAlive does that.
func (s *SourceSession) onPlayRequest(cseq int32) error {
	if s.state != StateAwaitingClientPlay {
		resp := NewResponse(cseq)
		resp.StatusCode = 455
		return s.send1(resp)
	}

	s.state = StateAboutToPlay

	resp := NewResponse(cseq)
	resp.Header["Session"] = s.client.sessionHeader
	if err := s.send1(resp); err != nil {
		return err
	}

	s.state = StatePlaying
	if s.OnPlaying != nil {
		s.OnPlaying()
	}
	return nil
}

func (s *SourceSession) onPauseRequest(cseq int32) error {
	resp := NewResponse(cseq)
	resp.Header["Session"] = s.client.sessionHeader
	return s.send1(resp)
}

// onTeardownRequest handles a client-initiated M9/M8 TEARDOWN: replies
// 200 and moves to StateStopping; the caller is expected to close the
// connection once the response has flushed.
func (s *SourceSession) onTeardownRequest(cseq int32) error {
	resp := NewResponse(cseq)
	resp.Header["Session"] = s.client.sessionHeader
	if err := s.send1(resp); err != nil {
		return err
	}
	s.state = StateStopping
	return nil
}

func (s *SourceSession) onGetParameterRequest(cseq int32, msg *Message) error {
	resp := NewResponse(cseq)
	resp.Header["Session"] = s.client.sessionHeader
	return s.send1(resp)
}

func (s *SourceSession) onSetParameterRequest(cseq int32, msg *Message) error {
	resp := NewResponse(cseq)
	resp.Header["Session"] = s.client.sessionHeader
	return s.send1(resp)
}

// RequestTeardown sends M5 with wfd_trigger_method: TEARDOWN, asking
// the peer to tear down cleanly before the grace timer forces a
// disconnect.
func (s *SourceSession) RequestTeardown() error {
	s.state = StateAwaitingClientTeardown
	return s.sendM5(true)
}

// SendKeepAlive sends M16. Callers schedule this every
// SessionTimeoutSecs/2 once the session has entered StatePlaying.
func (s *SourceSession) SendKeepAlive() error {
	return s.sendM16()
}

// NegotiatedTransport returns the RTP/RTCP ports SETUP negotiated:
// serverRTPPort/serverRTCPPort are this source's own allocated ports,
// clientRTPPort is where the sink expects to receive RTP. Valid once
// State() has reached StateAwaitingClientPlay or later.
func (s *SourceSession) NegotiatedTransport() (serverRTPPort, serverRTCPPort int, clientRTPPort int32) {
	return s.client.serverRTPPort, s.client.serverRTCPPort, s.client.clientRTPPort
}
