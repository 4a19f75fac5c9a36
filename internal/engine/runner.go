package engine

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/metrics"
	"github.com/adamavenir/ledgerchat/internal/types"
)

const (
	DefaultFetchTimeout = 15 * time.Second
	eventBuffer         = 64
)

// RunnerConfig parameterizes a Runner.
type RunnerConfig struct {
	Engine       Config
	PollInterval time.Duration
	FetchTimeout time.Duration
	// RepollPolicy returns the schedule of extra count polls after a send.
	RepollPolicy func() backoff.BackOff
	Clock        clock.Clock
	Logger       zerolog.Logger
}

// DefaultRepollPolicy polls again 1s, 2s and 4s after a send.
func DefaultRepollPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 4 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, 3)
}

// repollDue is the Runner's own event for one step of a re-poll schedule.
type repollDue struct {
	tag     Tag
	seq     uint64
	backoff backoff.BackOff
}

func (repollDue) event() {}

// Runner owns an Engine and executes its effects. Fetches run on their own
// goroutines; every result re-enters through the event channel so the engine
// is only touched by Run.
type Runner struct {
	src          Source
	view         View
	engine       *Engine
	clock        clock.Clock
	logger       zerolog.Logger
	pollInterval time.Duration
	fetchTimeout time.Duration
	repollPolicy func() backoff.BackOff

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	timers    []*clock.Timer
	repollSeq uint64

	mu    sync.Mutex
	state State
}

// NewRunner creates a runner for src reporting to view.
func NewRunner(src Source, view View, cfg RunnerConfig) *Runner {
	if view == nil {
		view = BaseView{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = core.DefaultPollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.RepollPolicy == nil {
		cfg.RepollPolicy = DefaultRepollPolicy
	}
	cfg.Engine.Logger = cfg.Logger
	eng := New(cfg.Engine)
	return &Runner{
		src:          src,
		view:         view,
		engine:       eng,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		fetchTimeout: cfg.FetchTimeout,
		repollPolicy: cfg.RepollPolicy,
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
		state:        eng.State(),
	}
}

// Run processes events until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	defer r.wg.Wait()
	defer close(r.done)
	defer r.stopTimers()

	ticker := r.clock.Ticker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.apply(ctx, PollTick{Now: r.clock.Now()})
		case ev := <-r.events:
			if due, ok := ev.(repollDue); ok {
				r.repoll(ctx, due)
				continue
			}
			r.apply(ctx, ev)
		}
	}
}

// Post queues an event. It never blocks once Run has returned.
func (r *Runner) Post(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Mount switches to channelID.
func (r *Runner) Mount(channelID string) {
	r.Post(Mount{Channel: channelID, Now: r.clock.Now()})
}

// Scrolled reports a viewport change.
func (r *Runner) Scrolled(v Viewport) {
	r.Post(Scrolled{Viewport: v})
}

// RequestOlder asks for the page before the oldest loaded page.
func (r *Runner) RequestOlder() {
	r.Post(OlderRequested{})
}

// RequestLatest asks for the latest page.
func (r *Runner) RequestLatest() {
	r.Post(LatestRequested{})
}

// Poll asks for an immediate count refresh.
func (r *Runner) Poll() {
	r.Post(PollTick{Now: r.clock.Now()})
}

// Submit sends req from the local user.
func (r *Runner) Submit(req types.SendRequest) {
	r.Post(Submit{Request: req, Now: r.clock.Now()})
}

// State returns the engine snapshot as of the last processed event.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) apply(ctx context.Context, ev Event) {
	if _, ok := ev.(Mount); ok {
		r.stopTimers()
		r.repollSeq++
	}
	for _, effect := range r.engine.Update(ev) {
		r.execute(ctx, effect)
	}
	r.mu.Lock()
	r.state = r.engine.State()
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, effect Effect) {
	switch effect := effect.(type) {
	case FetchCount:
		tag := effect.Tag
		r.spawn(ctx, FetchCountKind.String(), func(ctx context.Context) (Event, error) {
			n, err := r.src.MessageCount(ctx, tag.Channel)
			return CountLoaded{Tag: tag, Count: n, Err: err}, err
		})

	case FetchInfo:
		tag := effect.Tag
		r.spawn(ctx, FetchInfoKind.String(), func(ctx context.Context) (Event, error) {
			info, err := r.src.ChannelInfo(ctx, tag.Channel)
			return InfoLoaded{Tag: tag, Info: info, Err: err, Now: r.clock.Now()}, err
		})

	case FetchPage:
		tag, req := effect.Tag, effect.Request
		r.spawn(ctx, FetchPageKind.String(), func(ctx context.Context) (Event, error) {
			ids, err := r.src.MessagePage(ctx, tag.Channel, req.Offset, req.Size)
			if err != nil {
				return PageLoaded{Tag: tag, Request: req, Err: err}, err
			}
			var messages []types.Message
			if len(ids) > 0 {
				messages, err = r.src.MessageObjects(ctx, ids)
				if err != nil {
					return PageLoaded{Tag: tag, Request: req, Err: err}, err
				}
			}
			return PageLoaded{Tag: tag, Request: req, IDs: len(ids), Messages: messages, Now: r.clock.Now()}, nil
		})

	case Send:
		tag, req, armed := effect.Tag, effect.Request, effect.ArmedSince
		r.spawn(ctx, "send", func(ctx context.Context) (Event, error) {
			receipt, err := r.src.SendMessage(ctx, req)
			return SendDone{Tag: tag, Receipt: receipt, Err: err, ArmedSince: armed}, err
		})

	case Delay:
		r.after(effect.After, effect.Event)

	case StartTurnTimers:
		r.stopTimers()
		now := r.clock.Now()
		for _, timer := range []struct {
			tier TimeoutTier
			d    time.Duration
		}{{TierSoft, effect.Soft}, {TierHard, effect.Hard}} {
			r.after(effect.Since.Add(timer.d).Sub(now), TurnTimerFired{
				Tag:   effect.Tag,
				Tier:  timer.tier,
				Since: effect.Since,
			})
		}

	case Repoll:
		r.repollSeq++
		r.scheduleRepoll(repollDue{tag: effect.Tag, seq: r.repollSeq, backoff: r.repollPolicy()})

	case LogChanged:
		r.view.OnLogChanged(effect.Messages, effect.Origin)
	case TurnChanged:
		r.view.OnTurnStateChanged(effect.State)
	case ScrollAdjust:
		r.view.OnScrollAdjustmentNeeded(effect.Adjustment)
	case StaleChanged:
		r.view.OnStaleChanged(effect.Stale)
	case SendResult:
		r.view.OnSendResult(effect.Receipt, effect.Err)
	}
}

// repoll polls for one step of a post-send schedule and arms the next. A
// newer send or a remount cancels the schedule.
func (r *Runner) repoll(ctx context.Context, due repollDue) {
	if due.seq != r.repollSeq || due.tag != r.engine.tag {
		return
	}
	r.apply(ctx, PollTick{Now: r.clock.Now()})
	r.scheduleRepoll(due)
}

func (r *Runner) scheduleRepoll(due repollDue) {
	wait := due.backoff.NextBackOff()
	if wait == backoff.Stop {
		return
	}
	r.after(wait, due)
}

func (r *Runner) spawn(ctx context.Context, kind string, fetch func(context.Context) (Event, error)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()

		start := time.Now()
		ev, err := fetch(fetchCtx)
		metrics.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
			r.logger.Debug().Err(err).Str("kind", kind).Msg("fetch failed")
		}
		metrics.FetchesTotal.WithLabelValues(kind, outcome).Inc()
		r.Post(ev)
	}()
}

func (r *Runner) after(d time.Duration, ev Event) {
	if d <= 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.Post(ev)
		}()
		return
	}
	timer := r.clock.AfterFunc(d, func() { r.Post(ev) })
	if _, ok := ev.(TurnTimerFired); ok {
		r.timers = append(r.timers, timer)
	}
}

func (r *Runner) stopTimers() {
	for _, timer := range r.timers {
		timer.Stop()
	}
	r.timers = r.timers[:0]
}
