package resilient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FetchFunc produces one observation of remote data.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// PollResult is the outcome of one poll cycle. Exactly one of Value/FetchedAt
// or Err/Kind/OccurredAt is meaningful.
type PollResult[T any] struct {
	Seq        uint64
	Value      T
	FetchedAt  time.Time
	Err        error
	Kind       ErrorKind
	OccurredAt time.Time
}

// OK reports whether the cycle succeeded.
func (r PollResult[T]) OK() bool { return r.Err == nil }

// Time returns FetchedAt on success and OccurredAt on failure.
func (r PollResult[T]) Time() time.Time {
	if r.Err != nil {
		return r.OccurredAt
	}
	return r.FetchedAt
}

// PollOption configures a Poller.
type PollOption func(*pollConfig)

type pollConfig struct {
	depth        int
	logger       zerolog.Logger
	fetchTimeout time.Duration
	clock        func() time.Time
}

// WithHistoryDepth sets how many results the poller keeps.
func WithHistoryDepth(n int) PollOption {
	return func(c *pollConfig) { c.depth = n }
}

// WithPollLogger sets the logger for failed cycles and skipped ticks.
func WithPollLogger(l zerolog.Logger) PollOption {
	return func(c *pollConfig) { c.logger = l }
}

// WithFetchTimeout bounds each fetch. Zero leaves fetches unbounded.
func WithFetchTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) { c.fetchTimeout = d }
}

// Poller calls a FetchFunc on a fixed interval and records the outcomes.
type Poller[T any] struct {
	fetch    FetchFunc[T]
	interval time.Duration
	onResult func(PollResult[T])
	cfg      pollConfig
	history  *History[PollResult[T]]

	parent   context.Context
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	stopped  bool
	inflight bool
	seq      uint64
	cycles   sync.WaitGroup
	skipped  atomic.Uint64
}

// StartPoller starts polling fetch every interval, with the first fetch issued
// immediately. onResult, if non-nil, receives every result in order.
//
// Failures never stop the loop. Stop, or cancelling ctx, ends it; a fetch
// already running is allowed to finish and its result is delivered.
func StartPoller[T any](ctx context.Context, fetch FetchFunc[T], interval time.Duration, onResult func(PollResult[T]), opts ...PollOption) *Poller[T] {
	if fetch == nil {
		panic("resilient: StartPoller called with nil fetch")
	}
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}

	cfg := pollConfig{
		depth:  DefaultHistoryDepth,
		logger: zerolog.Nop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Poller[T]{
		fetch:    fetch,
		interval: interval,
		onResult: onResult,
		cfg:      cfg,
		history:  NewHistory[PollResult[T]](cfg.depth),
		parent:   ctx,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Stop ends polling. It does not block and may be called more than once,
// including from inside onResult.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })
}

// Wait blocks until the loop has exited and the last cycle has been delivered.
// It must not be called from onResult.
func (p *Poller[T]) Wait() {
	<-p.done
}

// Done is closed once Wait would return.
func (p *Poller[T]) Done() <-chan struct{} {
	return p.done
}

// History returns the recorded results, oldest first.
func (p *Poller[T]) History() []PollResult[T] {
	return p.history.Snapshot()
}

// Latest returns the most recent result.
func (p *Poller[T]) Latest() (PollResult[T], bool) {
	return p.history.Latest()
}

// Skipped returns the number of ticks dropped because a fetch was still running.
func (p *Poller[T]) Skipped() uint64 {
	return p.skipped.Load()
}

func (p *Poller[T]) run() {
	defer close(p.done)
	defer p.cycles.Wait()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if p.parent.Err() != nil {
		p.Stop()
		return
	}
	p.launch()
	for {
		select {
		case <-p.parent.Done():
			p.Stop()
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.launch()
		}
	}
}

func (p *Poller[T]) launch() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.inflight {
		p.mu.Unlock()
		n := p.skipped.Add(1)
		p.cfg.logger.Debug().Uint64("skipped", n).Msg("poll tick skipped, previous fetch still running")
		return
	}
	p.inflight = true
	p.seq++
	seq := p.seq
	p.cycles.Add(1)
	p.mu.Unlock()

	go p.cycle(seq)
}

func (p *Poller[T]) cycle(seq uint64) {
	defer p.cycles.Done()

	res := p.fetchOnce(seq)
	p.history.Append(res)

	if p.onResult != nil {
		p.onResult(res)
	}

	p.mu.Lock()
	p.inflight = false
	p.mu.Unlock()
}

func (p *Poller[T]) fetchOnce(seq uint64) (res PollResult[T]) {
	// Stopping the poller must not abort a fetch already under way.
	ctx := context.WithoutCancel(p.parent)
	if p.cfg.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.fetchTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("resilient: poll fetch panicked: %v", r)
			p.cfg.logger.Error().Uint64("seq", seq).Err(err).Msg("poll cycle failed")
			res = PollResult[T]{Seq: seq, Err: err, Kind: KindUnknown, OccurredAt: p.cfg.clock()}
		}
	}()

	v, err := p.fetch(ctx)
	now := p.cfg.clock()
	if err != nil {
		kind := KindOf(err)
		p.cfg.logger.Warn().
			Uint64("seq", seq).
			Str("kind", kind.String()).
			Err(err).
			Msg("poll cycle failed")
		return PollResult[T]{Seq: seq, Err: err, Kind: kind, OccurredAt: now}
	}
	return PollResult[T]{Seq: seq, Value: v, FetchedAt: now}
}
