// Package hdcp models the HDCP cryptographic oracle as an external
// collaborator and builds the 16-byte HDCP_private_data descriptor
// carried unchanged on the wire inside a track's PMT ES descriptor and
// PES private data.
package hdcp

import "fmt"

// Oracle encrypts a byte range in place for one stream, returning the
// input counter consumed for that call. Implementations are expected
// to serialize concurrent calls internally or rely on the caller
// (PlaybackSession) to serialize them — the pipeline only ever has one
// encrypt in flight per session.
type Oracle interface {
	Encrypt(data []byte, streamCTR uint64) (inputCTR uint64, err error)
}

// PrivateData builds the 16-byte HDCP_private_data layout exactly as
// laid out in the original WFD source: a 2-bit/15-bit/15-bit split of
// the stream counter and a 4-bit/15-bit/15-bit/15-bit/15-bit split of
// the input counter, each chunk followed by a marker bit of 1. This layout
// must not be changed; it is part of the wire contract with sinks that
// decrypt HDCP-protected PES payloads.
func PrivateData(streamCTR, inputCTR uint64) [16]byte {
	var d [16]byte

	d[0] = 0x00
	d[1] = byte((((streamCTR >> 30) & 3) << 1) | 1)
	d[2] = byte((streamCTR >> 22) & 0xff)
	d[3] = byte((((streamCTR >> 15) & 0x7f) << 1) | 1)
	d[4] = byte((streamCTR >> 7) & 0xff)
	d[5] = byte(((streamCTR & 0x7f) << 1) | 1)
	d[6] = 0x00

	d[7] = byte((((inputCTR >> 60) & 0x0f) << 1) | 1)
	d[8] = byte((inputCTR >> 52) & 0xff)
	d[9] = byte((((inputCTR >> 45) & 0x7f) << 1) | 1)
	d[10] = byte((inputCTR >> 37) & 0xff)
	d[11] = byte((((inputCTR >> 30) & 0x7f) << 1) | 1)
	d[12] = byte((inputCTR >> 22) & 0xff)
	d[13] = byte((((inputCTR >> 15) & 0x7f) << 1) | 1)
	d[14] = byte((inputCTR >> 7) & 0xff)
	d[15] = byte(((inputCTR & 0x7f) << 1) | 1)

	return d
}

// ErrEncryptFailed wraps an Oracle failure; fatal to the owning
// PlaybackSession but not to the RTSP server, which may accept new
// sessions.
type ErrEncryptFailed struct {
	StreamCTR uint64
	Cause     error
}

func (e *ErrEncryptFailed) Error() string {
	return fmt.Sprintf("hdcp: encrypt failed for stream counter %d: %v", e.StreamCTR, e.Cause)
}

func (e *ErrEncryptFailed) Unwrap() error { return e.Cause }
