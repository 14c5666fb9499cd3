package rtsp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SinkState is one state of the WFD sink-side RTSP state machine,
// matching WifiDisplaySink::State.
type SinkState int

const (
	StateUndefined SinkState = iota
	StateConnecting
	StateConnected
	StatePaused
	StateSinkPlaying
)

func (s SinkState) String() string {
	switch s {
	case StateUndefined:
		return "UNDEFINED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StatePaused:
		return "PAUSED"
	case StateSinkPlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// SinkParams are the capabilities a SinkSession advertises in its M3
// GET_PARAMETER reply, supplied by the caller (see cmd/wfdsink).
type SinkParams struct {
	VideoFormats      string
	AudioCodecs       string
	ClientRTPPort     int32
	ContentProtection string
}

// SinkSession drives the client side of the WFD handshake: it answers
// the source-initiated M1/M3/M4/M5 requests and, once triggered by
// M5's wfd_trigger_method, issues its own M6 SETUP and M7 PLAY.
type SinkSession struct {
	SessionID int32
	Transport Transport
	Params    SinkParams
	URI       string

	// OnPlaying is invoked once the PLAY response has been received
	// and the session has entered StateSinkPlaying.
	OnPlaying func()

	state          SinkState
	nextCSeq       int32
	resp           responseTable
	sessionHeader  string
	serverRTPPort  int32
	serverRTCPPort int32
	lastActivity   time.Time
}

// NewSinkSession returns a SinkSession in StateUndefined, ready to
// transition to StateConnecting once the TCP connection to the source
// is established.
func NewSinkSession(sessionID int32, transport Transport, uri string, params SinkParams) *SinkSession {
	return &SinkSession{
		SessionID: sessionID,
		Transport: transport,
		Params:    params,
		URI:       uri,
		state:     StateUndefined,
		resp:      newResponseTable(),
	}
}

// State returns the session's current state.
func (s *SinkSession) State() SinkState { return s.state }

// LastActivity returns the time of the most recently processed
// message, for reaper idle-timeout comparisons.
func (s *SinkSession) LastActivity() time.Time { return s.lastActivity }

func (s *SinkSession) touch() { s.lastActivity = time.Now() }

func (s *SinkSession) allocCSeq() int32 {
	s.nextCSeq++
	return s.nextCSeq
}

func (s *SinkSession) send(req *Request) error {
	if err := s.Transport.Send(s.SessionID, req.Serialize()); err != nil {
		return fmt.Errorf("rtsp: send %s: %w", req.Method, err)
	}
	return nil
}

func (s *SinkSession) send1(resp *Response) error {
	return s.Transport.Send(s.SessionID, resp.Serialize())
}

// Start marks the TCP connection established; the session now waits
// for the source's M1 OPTIONS.
func (s *SinkSession) Start() {
	s.state = StateConnecting
}

// HandleMessage routes one parsed RTSP message the same way
// SourceSession does.
func (s *SinkSession) HandleMessage(msg *Message) error {
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
	case "GET_PARAMETER":
		return s.onGetParameterRequest(cseq)
	case "SET_PARAMETER":
		return s.onSetParameterRequest(cseq, msg)
	default:
		resp := NewResponse(cseq)
		resp.StatusCode = 400
		return s.send1(resp)
	}
}

// onOptionsRequest answers the source's M1 and, in turn, sends the
// symmetric M2 back.
func (s *SinkSession) onOptionsRequest(cseq int32) error {
	resp := NewResponse(cseq)
	resp.Header["Public"] = "org.wfa.wfd1.0, GET_PARAMETER, SET_PARAMETER"
	if err := s.send1(resp); err != nil {
		return err
	}
	return s.sendM2()
}

func (s *SinkSession) sendM2() error {
	cseq := s.allocCSeq()
	req := NewRequest("OPTIONS", s.URI, cseq)
	req.Header["Require"] = "org.wfa.wfd1.0"
	s.resp.register(s.SessionID, cseq, s.onReceiveM2Response)
	return s.send(req)
}

func (s *SinkSession) onReceiveM2Response(msg *Message) error {
	code, ok := msg.StatusCode()
	if !ok || code != 200 {
		return fmt.Errorf("rtsp: M2 response status %d", code)
	}
	return nil
}

// onGetParameterRequest answers M3 (capability query) and M16
// (keep-alive, empty body) alike: every reply carries all four wfd_*
// capability values, whatever keys the request body lists and even
// when the body is empty.
func (s *SinkSession) onGetParameterRequest(cseq int32) error {
	resp := NewResponse(cseq)
	resp.Header["Session"] = s.sessionHeader

	var body strings.Builder
	fmt.Fprintf(&body, "wfd_video_formats: %s\r\n", s.Params.VideoFormats)
	fmt.Fprintf(&body, "wfd_audio_codecs: %s\r\n", s.Params.AudioCodecs)
	fmt.Fprintf(&body, "wfd_client_rtp_ports: RTP/AVP/UDP;unicast %d 0 mode=play\r\n", s.Params.ClientRTPPort)
	fmt.Fprintf(&body, "wfd_content_protection: %s\r\n", s.Params.ContentProtection)
	resp.Body = []byte(body.String())

	return s.send1(resp)
}

// onSetParameterRequest answers M4 (formats/presentation URL, just an
// ack) and M5 (wfd_trigger_method), driving the client-initiated
// SETUP/PLAY/TEARDOWN/PAUSE that M5 requests.
func (s *SinkSession) onSetParameterRequest(cseq int32, msg *Message) error {
	resp := NewResponse(cseq)
	resp.Header["Session"] = s.sessionHeader
	if err := s.send1(resp); err != nil {
		return err
	}

	body := string(msg.Body)
	for _, line := range strings.Split(body, "\r\n") {
		line = strings.TrimSpace(line)
		const key = "wfd_trigger_method:"
		if !strings.HasPrefix(strings.ToLower(line), key) {
			continue
		}
		method := strings.ToUpper(strings.TrimSpace(line[len(key):]))
		switch method {
		case "SETUP":
			return s.sendSetup()
		case "PLAY":
			return s.sendPlay()
		case "TEARDOWN":
			return s.sendTeardown()
		case "PAUSE":
			return s.sendPause()
		}
	}

	return nil
}

func (s *SinkSession) sendSetup() error {
	cseq := s.allocCSeq()
	req := NewRequest("SETUP", s.URI, cseq)
	req.Header["Transport"] = fmt.Sprintf("RTP/AVP/UDP;unicast;client_port=%d-%d",
		s.Params.ClientRTPPort, s.Params.ClientRTPPort+1)
	s.resp.register(s.SessionID, cseq, s.onReceiveSetupResponse)
	return s.send(req)
}

func (s *SinkSession) onReceiveSetupResponse(msg *Message) error {
	code, ok := msg.StatusCode()
	if !ok || code != 200 {
		return fmt.Errorf("rtsp: SETUP response status %d", code)
	}
	if session, ok := msg.Get("Session"); ok {
		if idx := strings.IndexByte(session, ';'); idx >= 0 {
			s.sessionHeader = session[:idx]
		} else {
			s.sessionHeader = session
		}
	}
	return s.configureTransport(msg)
}

func (s *SinkSession) configureTransport(msg *Message) error {
	transport, _ := msg.Get("Transport")
	if ports, ok := GetAttribute(transport, "server_port"); ok {
		rtpPort := ports
		if dash := strings.IndexByte(ports, '-'); dash >= 0 {
			rtpPort = ports[:dash]
		}
		if n, err := strconv.ParseInt(rtpPort, 10, 32); err == nil {
			s.serverRTPPort = int32(n)
			s.serverRTCPPort = int32(n) + 1
		}
	}
	s.state = StateConnected
	return nil
}

func (s *SinkSession) sendPlay() error {
	cseq := s.allocCSeq()
	req := NewRequest("PLAY", s.URI, cseq)
	req.Header["Session"] = s.sessionHeader
	s.resp.register(s.SessionID, cseq, s.onReceivePlayResponse)
	return s.send(req)
}

func (s *SinkSession) onReceivePlayResponse(msg *Message) error {
	code, ok := msg.StatusCode()
	if !ok || code != 200 {
		return fmt.Errorf("rtsp: PLAY response status %d", code)
	}
	s.state = StateSinkPlaying
	if s.OnPlaying != nil {
		s.OnPlaying()
	}
	return nil
}

func (s *SinkSession) sendPause() error {
	cseq := s.allocCSeq()
	req := NewRequest("PAUSE", s.URI, cseq)
	req.Header["Session"] = s.sessionHeader
	s.resp.register(s.SessionID, cseq, func(msg *Message) error {
		if code, ok := msg.StatusCode(); ok && code == 200 {
			s.state = StatePaused
		}
		return nil
	})
	return s.send(req)
}

func (s *SinkSession) sendTeardown() error {
	cseq := s.allocCSeq()
	req := NewRequest("TEARDOWN", s.URI, cseq)
	req.Header["Session"] = s.sessionHeader
	s.resp.register(s.SessionID, cseq, func(*Message) error {
		s.state = StateUndefined
		return nil
	})
	return s.send(req)
}

// ServerPorts returns the RTP/RTCP ports the source assigned this
// sink's SETUP, valid once State() has reached StateConnected.
func (s *SinkSession) ServerPorts() (rtpPort, rtcpPort int32) {
	return s.serverRTPPort, s.serverRTCPPort
}
