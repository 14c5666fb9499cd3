package media

import (
	"context"
	"errors"
	"sync"

	"github.com/ethan/wfd-miracast/pkg/au"
)

// MediaPuller runs a single-threaded pull loop: block on the capture
// source's read, package the result, forward it on. It owns the only
// goroutine that ever touches its CaptureSource — one dedicated
// goroutine per Track puller, never shared.
type MediaPuller struct {
	source CaptureSource
	feed   func(au.Unit) error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	started bool
}

// NewMediaPuller returns a puller that will, once Start is called,
// read units from source and hand each to feed in order until Stop is
// called or the source returns an error.
func NewMediaPuller(source CaptureSource, feed func(au.Unit) error) *MediaPuller {
	ctx, cancel := context.WithCancel(context.Background())
	return &MediaPuller{
		source: source,
		feed:   feed,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start begins the pull loop goroutine.
func (p *MediaPuller) Start() {
	p.started = true
	go p.run()
}

func (p *MediaPuller) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		unit, err := p.source.Read()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			return
		}

		if err := p.feed(unit); err != nil {
			return
		}
	}
}

// Stop cancels the pull loop and blocks until it has quiesced. This is
// a synchronous wait rather than a callback since Stop already runs
// off the puller's own goroutine. A puller that was never started
// returns as soon as its source is closed.
func (p *MediaPuller) Stop() {
	p.once.Do(func() {
		p.cancel()
		_ = p.source.Close()
	})
	if !p.started {
		return
	}
	<-p.done
}
