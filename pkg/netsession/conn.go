package netsession

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Conn wraps one TCP connection carrying RTSP control traffic optionally
// interleaved with "$<channel><len16>" RTP/RTCP data frames, same framing
// pkg/rtsp's original client peeked for by hand. Reads happen on a single
// dedicated goroutine (run) that posts every frame as a Message; writes
// are serialized behind writeMu so a control-plane goroutine and a
// keep-alive goroutine can share the same Conn safely.
type Conn struct {
	id          int32
	nc          net.Conn
	reader      *bufio.Reader
	writeMu     sync.Mutex
	out         chan<- Message
	idleTimeout time.Duration
}

// newConn is unexported: Conns are only ever minted by Manager, which
// owns the socket table these Messages are keyed against.
func newConn(id int32, nc net.Conn, out chan<- Message, idleTimeout time.Duration) *Conn {
	return &Conn{
		id:          id,
		nc:          nc,
		reader:      bufio.NewReaderSize(nc, 65536),
		out:         out,
		idleTimeout: idleTimeout,
	}
}

// ID returns the session ID this connection is tracked under in its
// owning Manager's socket table.
func (c *Conn) ID() int32 { return c.id }

// RemoteAddr exposes the peer address for logging.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Send writes a complete control message (an already-serialized RTSP
// request or response) to the peer.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.idleTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.idleTimeout))
	}
	_, err := c.nc.Write(data)
	return err
}

// SendData writes one RTP/RTCP payload as a "$<channel><len16>"
// interleaved frame, the TCP-transport alternative to a bare UDP
// datagram.
func (c *Conn) SendData(channel byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("netsession: payload %d bytes exceeds interleaved frame limit", len(payload))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	header := make([]byte, 4)
	header[0] = '$'
	header[1] = channel
	binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))

	if c.idleTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.idleTimeout))
	}
	if _, err := c.nc.Write(header); err != nil {
		return err
	}
	_, err := c.nc.Write(payload)
	return err
}

// Close closes the underlying socket. run's reader goroutine observes
// the resulting error and posts a KindClosed message on its way out.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// run is the connection's sole reader goroutine: it peeks the next
// frame, classifies it as an interleaved data frame or a plain RTSP
// message, and posts exactly one Message per frame. It never blocks the
// caller — the caller only starts it with "go c.run()" and consumes from
// the Manager-owned out channel.
func (c *Conn) run() {
	for {
		lead, err := c.reader.Peek(1)
		if err != nil {
			c.postClosed(err)
			return
		}

		if lead[0] == '$' {
			if err := c.readDataFrame(); err != nil {
				c.postClosed(err)
				return
			}
			continue
		}

		if err := c.readControlMessage(); err != nil {
			c.postClosed(err)
			return
		}
	}
}

func (c *Conn) readDataFrame() error {
	header, err := c.reader.Peek(4)
	if err != nil {
		return err
	}
	channel := header[1]
	size := binary.BigEndian.Uint16(header[2:4])
	if _, err := c.reader.Discard(4); err != nil {
		return err
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return err
	}

	c.out <- Message{SessionID: c.id, Kind: KindData, Channel: channel, Payload: payload}
	return nil
}

// readControlMessage reads one RTSP message off the stream byte by byte
// using the same start-line/header/Content-Length framing
// pkg/rtsp.Parse applies to an already-buffered byte slice, adapted here
// to read incrementally off the wire instead of parsing a closed buffer.
func (c *Conn) readControlMessage() error {
	startLine, err := c.reader.ReadString('\n')
	if err != nil {
		return err
	}

	var raw []byte
	raw = append(raw, startLine...)

	contentLength := 0
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return err
		}
		raw = append(raw, line...)

		trimmed := trimCRLF(line)
		if trimmed == "" {
			break
		}
		if n, ok := parseContentLength(trimmed); ok {
			contentLength = n
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(c.reader, body); err != nil {
			return err
		}
		raw = append(raw, body...)
	}

	c.out <- Message{SessionID: c.id, Kind: KindControl, Payload: raw}
	return nil
}

func (c *Conn) postClosed(err error) {
	if errors.Is(err, io.EOF) {
		err = nil
	}
	c.out <- Message{SessionID: c.id, Kind: KindClosed, Err: err}
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func parseContentLength(headerLine string) (int, bool) {
	const prefix = "content-length:"
	if len(headerLine) <= len(prefix) {
		return 0, false
	}
	lower := make([]byte, len(prefix))
	for i := 0; i < len(prefix); i++ {
		b := headerLine[i]
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		lower[i] = b
	}
	if string(lower) != prefix {
		return 0, false
	}
	value := headerLine[len(prefix):]
	for len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
