package media

import (
	"context"
	"sync"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
)

// PCM frame shape used when a Track bypasses the encoder entirely:
// raw audio is repackaged into fixed-duration frames suitable for PES
// without ever touching an encoder. These match the 48 kHz stereo
// 16-bit layout WFD's LPCM audio format advertises.
const (
	pcmSampleRate    = 48000
	pcmChannels      = 2
	pcmBytesPerSamp  = 2
	pcmFrameDuration = 20 * time.Millisecond
)

// pcmFrameBytes is computed via milliseconds rather than
// pcmFrameDuration/time.Second directly: time.Duration division
// truncates to an integer number of whole seconds first, which would
// floor a sub-second frame period to zero.
var pcmFrameBytes = pcmSampleRate * pcmChannels * pcmBytesPerSamp * int(pcmFrameDuration/time.Millisecond) / 1000

// Converter owns an Encoder handle and feeds it asynchronously. A
// self-posting "do more work" tick drains whatever the encoder has
// produced while there is still buffered input, rather than blocking
// the feeder on encode latency: one buffered input channel, one
// dedicated loop goroutine, no shared mutable state between feeder and
// loop beyond the channels themselves.
type Converter struct {
	encoder  Encoder // nil selects the PCM bypass path
	onOutput func(au.Unit)

	input    chan au.Unit
	workTick chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pcmMu      sync.Mutex
	pcmBuf     []byte
	pcmPTSUs   int64
	pcmStarted bool
}

// NewConverter returns a Converter that feeds encoder asynchronously
// and calls onOutput for every produced AU, in order. encoder may be
// nil, selecting the PCM-bypass path for raw audio Tracks.
func NewConverter(encoder Encoder, onOutput func(au.Unit)) *Converter {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Converter{
		encoder:  encoder,
		onOutput: onOutput,
		input:    make(chan au.Unit, 32),
		workTick: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	if encoder != nil {
		c.wg.Add(1)
		go c.loop()
	}
	return c
}

// FeedAccessUnit hands one captured unit to the Converter. For PCM
// Tracks this repackages directly into fixed-duration frames; for
// every other codec it is queued for the encoder loop.
func (c *Converter) FeedAccessUnit(u au.Unit) error {
	if c.encoder == nil || u.Codec == au.CodecPCM {
		return c.feedPCM(u)
	}
	select {
	case c.input <- u:
		c.poke()
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Converter) feedPCM(u au.Unit) error {
	c.pcmMu.Lock()
	defer c.pcmMu.Unlock()

	if !c.pcmStarted {
		c.pcmPTSUs = u.PTSUs
		c.pcmStarted = true
	}
	c.pcmBuf = append(c.pcmBuf, u.Payload...)

	for len(c.pcmBuf) >= pcmFrameBytes {
		frame := make([]byte, pcmFrameBytes)
		copy(frame, c.pcmBuf[:pcmFrameBytes])
		c.pcmBuf = c.pcmBuf[pcmFrameBytes:]

		out := au.New(au.CodecPCM, c.pcmPTSUs, 0, frame)
		c.pcmPTSUs += pcmFrameDuration.Microseconds()
		c.onOutput(out)
	}
	return nil
}

// RequestIDR asks the encoder's next output to be a keyframe; a no-op
// for PCM bypass or before an encoder is attached.
func (c *Converter) RequestIDR() {
	if c.encoder != nil {
		c.encoder.RequestIDR()
	}
}

// SignalEOS tells the encoder no more input is coming.
func (c *Converter) SignalEOS() error {
	if c.encoder == nil {
		return nil
	}
	return c.encoder.SignalEOS()
}

// Stop quiesces the Converter's loop goroutine and releases the
// encoder handle.
func (c *Converter) Stop() {
	c.cancel()
	c.wg.Wait()
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
}

func (c *Converter) poke() {
	select {
	case c.workTick <- struct{}{}:
	default:
	}
}

// loop is the Converter's sole goroutine: it feeds queued input to the
// encoder and drains whatever output is ready, re-posting its own work
// tick whenever a drain call actually produced something, so the
// encoder is kept as full as it has capacity for without a dedicated
// poll timer.
func (c *Converter) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case u := <-c.input:
			_ = c.encoder.Feed(u)
			c.poke()
		case <-c.workTick:
			out, _ := c.encoder.Drain()
			for _, u := range out {
				c.onOutput(u)
			}
			if len(out) > 0 {
				c.poke()
			}
		}
	}
}
