// Package typing reveals text into per-channel buffers one user-perceived
// character at a time.
//
// Each channel owns at most one run. Starting a channel cancels whatever run
// it had, clears its buffer and begins again; channels never wait on each
// other. Runs tick on their own goroutine, so Start and Stop return at once.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/rivo/uniseg"
)

// DefaultInterval is the delay between two revealed characters.
const DefaultInterval = 10 * time.Millisecond

// Channel names an independently animated buffer.
type Channel string

const (
	// ChannelDirect carries the assistant's direct message.
	ChannelDirect Channel = "direct"
	// ChannelReasoning carries why the partner was chosen.
	ChannelReasoning Channel = "reasoning"
)

// Observer receives the full buffer of a channel after every change. It is
// called with the animator's lock held and must not call back into it.
type Observer func(ch Channel, text string)

// Animator drives the typing runs for any number of channels.
type Animator struct {
	interval time.Duration
	observer Observer

	mu       sync.Mutex
	channels map[Channel]*channel
	closed   bool
	wg       sync.WaitGroup
}

type channel struct {
	text string
	run  *run
}

type run struct {
	source   []string
	cursor   int
	stopped  bool
	finished bool
	stop     chan struct{}
	done     chan struct{}
}

// New creates an Animator revealing one character per interval. A
// non-positive interval falls back to DefaultInterval. observer may be nil.
func New(interval time.Duration, observer Observer) *Animator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Animator{
		interval: interval,
		observer: observer,
		channels: make(map[Channel]*channel),
	}
}

// Start begins revealing text on ch, discarding any run in progress and the
// characters it had written.
func (a *Animator) Start(ch Channel, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	c := a.channel(ch)
	if c.run != nil {
		c.run.halt()
	}

	r := &run{
		source: graphemes(text),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.run = r
	c.text = ""
	a.notify(ch, c)

	if len(r.source) == 0 {
		r.finished = true
		close(r.done)
		return
	}

	a.wg.Add(1)
	go a.play(ch, r)
}

// Stop halts the run on ch. The characters revealed so far stay in place.
func (a *Animator) Stop(ch Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.channels[ch]; ok && c.run != nil {
		c.run.halt()
	}
}

// Text returns the characters revealed on ch so far.
func (a *Animator) Text(ch Channel) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.channels[ch]; ok {
		return c.text
	}
	return ""
}

// Active reports whether ch still has characters to reveal.
func (a *Animator) Active(ch Channel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.channels[ch]
	return ok && c.run != nil && !c.run.stopped && !c.run.finished
}

// Wait blocks until the current run on ch has finished or been stopped.
func (a *Animator) Wait(ctx context.Context, ch Channel) error {
	a.mu.Lock()
	var done chan struct{}
	if c, ok := a.channels[ch]; ok && c.run != nil {
		done = c.run.done
	}
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every channel and waits for their goroutines to exit. Start is
// a no-op afterwards.
func (a *Animator) Close() {
	a.mu.Lock()
	a.closed = true
	for _, c := range a.channels {
		if c.run != nil {
			c.run.halt()
		}
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Animator) play(ch Channel, r *run) {
	defer a.wg.Done()
	defer close(r.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		if !a.advance(ch, r) {
			return
		}
	}
}

// advance appends the next character of r and reports whether more remain.
func (a *Animator) advance(ch Channel, r *run) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.channels[ch]
	if c == nil || c.run != r || r.stopped {
		return false
	}
	c.text += r.source[r.cursor]
	r.cursor++
	if r.cursor == len(r.source) {
		r.finished = true
	}
	a.notify(ch, c)
	return !r.finished
}

func (a *Animator) channel(ch Channel) *channel {
	c, ok := a.channels[ch]
	if !ok {
		c = &channel{}
		a.channels[ch] = c
	}
	return c
}

func (a *Animator) notify(ch Channel, c *channel) {
	if a.observer != nil {
		a.observer(ch, c.text)
	}
}

// halt must be called with the animator's lock held.
func (r *run) halt() {
	if r.stopped || r.finished {
		return
	}
	r.stopped = true
	close(r.stop)
}

func graphemes(s string) []string {
	var out []string
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		out = append(out, g.Str())
	}
	return out
}
