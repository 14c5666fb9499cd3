// Package au defines the Access Unit, the decoder-granularity boundary
// shared by every stage of the media pipeline: capture, Converter,
// TSPacketizer and Sender on the source side; RTPSink and the display
// surface on the sink side.
package au

import "fmt"

// Codec identifies the elementary stream kind carried by a Unit.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecAAC
	CodecPCM
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecAAC:
		return "aac"
	case CodecPCM:
		return "pcm"
	default:
		return "unknown"
	}
}

// Flags mark out-of-band properties of a Unit's payload.
type Flags uint32

const (
	// FlagIDR marks a self-contained keyframe (H.264 IDR).
	FlagIDR Flags = 1 << iota
	// FlagEOS marks the end of the stream; payload may be empty.
	FlagEOS
)

func (f Flags) IDR() bool { return f&FlagIDR != 0 }
func (f Flags) EOS() bool { return f&FlagEOS != 0 }

// Unit is an immutable access unit. Payload is never mutated after
// construction; callers that need a reference-counted view rather than
// a copy should use Clone, which shares the backing array.
type Unit struct {
	Codec   Codec
	PTSUs   int64 // presentation time, microseconds
	Flags   Flags
	Payload []byte
}

// New builds a Unit, copying payload into a fresh backing array so the
// caller's buffer can be reused immediately.
func New(codec Codec, ptsUs int64, flags Flags, payload []byte) Unit {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return Unit{Codec: codec, PTSUs: ptsUs, Flags: flags, Payload: buf}
}

// Clone returns a cheap handle sharing the same backing array; safe
// because Units are never mutated after construction.
func (u Unit) Clone() Unit {
	return u
}

// WithTiming returns a copy of u with PTS replaced; the only mutation
// the pipeline ever performs on a produced Unit (capture timestamps
// arrive slightly after payload production on some sources).
func (u Unit) WithTiming(ptsUs int64) Unit {
	u.PTSUs = ptsUs
	return u
}

func (u Unit) String() string {
	return fmt.Sprintf("au{codec=%s pts=%dus flags=%#x len=%d}", u.Codec, u.PTSUs, u.Flags, len(u.Payload))
}
