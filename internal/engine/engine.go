package engine

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/metrics"
	"github.com/adamavenir/ledgerchat/internal/types"
)

var (
	// ErrNotMounted is returned for sends before any channel is mounted.
	ErrNotMounted = errors.New("no channel mounted")
	// ErrChannelInactive is returned for sends to a closed or banned channel.
	ErrChannelInactive = errors.New("channel is not active")
)

// Config parameterizes an Engine.
type Config struct {
	PageSize            int
	AIAddress           string
	TriggerTokens       []string
	NearBottomThreshold int
	TopThreshold        int
	SoftTimeout         time.Duration
	HardTimeout         time.Duration
	// BackfillShortLatest requests the previous page once when the first
	// latest page comes back under-filled.
	BackfillShortLatest bool
	// RetryPolicy returns a fresh backoff for one failing fetch.
	RetryPolicy func() backoff.BackOff
	Logger      zerolog.Logger
}

// DefaultRetryPolicy retries a failed fetch once after one second.
func DefaultRetryPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 1)
}

type retryKey struct {
	kind FetchKind
	slot Slot
}

// Engine owns all sync state for the mounted channel.
type Engine struct {
	cfg        Config
	logger     zerolog.Logger
	tag        Tag
	mounted    bool
	info       *types.ChannelInfo
	policy     TriggerPolicy
	log        *MessageLog
	pager      *Pager
	anchor     *ScrollAnchor
	turn       Turn
	retries    map[retryKey]backoff.BackOff
	countBusy  bool
	infoBusy   bool
	infoFailed bool
	stale      bool
	backfilled bool
}

// New creates an engine. Nothing is fetched until a Mount event.
func New(cfg Config) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = core.DefaultPageSize
	}
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = DefaultSoftTimeout
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = DefaultHardTimeout
	}
	if cfg.TriggerTokens == nil {
		cfg.TriggerTokens = core.DefaultTriggerTokens
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = DefaultRetryPolicy
	}
	return &Engine{
		cfg:     cfg,
		logger:  cfg.Logger,
		log:     NewMessageLog(""),
		pager:   NewPager(cfg.PageSize),
		anchor:  NewScrollAnchor(cfg.NearBottomThreshold, cfg.TopThreshold),
		turn:    idleTurn(),
		retries: make(map[retryKey]backoff.BackOff),
	}
}

// Update applies ev and returns the effects to execute.
func (e *Engine) Update(ev Event) []Effect {
	switch ev := ev.(type) {
	case Mount:
		return e.mount(ev)
	case PollTick:
		return e.poll()
	case CountLoaded:
		if !e.current(ev.Tag) {
			return nil
		}
		return e.countLoaded(ev)
	case InfoLoaded:
		if !e.current(ev.Tag) {
			return nil
		}
		return e.infoLoaded(ev)
	case PageLoaded:
		if !e.current(ev.Tag) {
			return nil
		}
		return e.pageLoaded(ev)
	case FetchRetry:
		if !e.current(ev.Tag) {
			return nil
		}
		return e.fetchRetry(ev)
	case Scrolled:
		return e.scrolled(ev)
	case OlderRequested:
		return e.requestOlder()
	case LatestRequested:
		if !e.mounted {
			return nil
		}
		return e.nextTail()
	case Submit:
		return e.submit(ev)
	case SendDone:
		if !e.current(ev.Tag) {
			return nil
		}
		return e.sendDone(ev)
	case TurnTimerFired:
		if !e.current(ev.Tag) {
			return nil
		}
		return e.applyTurn(TurnTimer{Tier: ev.Tier, Since: ev.Since})
	}
	return nil
}

func (e *Engine) current(tag Tag) bool {
	if e.mounted && tag == e.tag {
		return true
	}
	metrics.LateResponses.Inc()
	e.logger.Debug().
		Str("channel", tag.Channel).
		Uint64("gen", tag.Gen).
		Str("mounted", e.tag.Channel).
		Msg("dropping late response")
	return false
}

func (e *Engine) mount(ev Mount) []Effect {
	wasStale := e.stale
	e.tag = Tag{Channel: ev.Channel, Gen: e.tag.Gen + 1}
	e.mounted = true
	e.info = nil
	e.policy = PolicyFor(types.ChannelTypeTopic, e.cfg.AIAddress, e.cfg.TriggerTokens)
	e.log.Reset(ev.Channel)
	e.pager = NewPager(e.cfg.PageSize)
	e.anchor.Reset()
	e.turn = idleTurn()
	clear(e.retries)
	e.countBusy = true
	e.infoBusy = true
	e.infoFailed = false
	e.stale = false
	e.backfilled = false

	e.logger.Debug().Str("channel", ev.Channel).Uint64("gen", e.tag.Gen).Msg("mounted channel")

	effects := []Effect{
		LogChanged{Messages: nil, Origin: SlotTail},
		TurnChanged{State: e.turn.TurnState},
	}
	if wasStale {
		effects = append(effects, e.staleEffect(false)...)
	}
	return append(effects, FetchInfo{Tag: e.tag}, FetchCount{Tag: e.tag})
}

func (e *Engine) poll() []Effect {
	if !e.mounted {
		return nil
	}
	var effects []Effect
	if e.info == nil && !e.infoBusy {
		e.infoBusy = true
		effects = append(effects, FetchInfo{Tag: e.tag})
	}
	if !e.countBusy {
		e.countBusy = true
		effects = append(effects, FetchCount{Tag: e.tag})
	}
	return effects
}

func (e *Engine) countLoaded(ev CountLoaded) []Effect {
	key := retryKey{kind: FetchCountKind}
	if ev.Err != nil {
		e.logger.Debug().Err(ev.Err).Str("channel", e.tag.Channel).Msg("count fetch failed")
		if retry, ok := e.retry(key, FetchRetry{Tag: e.tag, Kind: FetchCountKind}); ok {
			return []Effect{retry}
		}
		e.countBusy = false
		return e.staleEffect(true)
	}
	delete(e.retries, key)
	e.countBusy = false

	obs := e.pager.ObserveCount(ev.Count)
	if obs.Stale {
		metrics.StaleCounts.Inc()
		e.logger.Debug().
			Str("channel", e.tag.Channel).
			Uint64("count", ev.Count).
			Uint64("known", obs.Previous).
			Msg("ignoring stale message count")
		return nil
	}
	return append(e.recovered(), e.nextTail()...)
}

func (e *Engine) infoLoaded(ev InfoLoaded) []Effect {
	key := retryKey{kind: FetchInfoKind}
	if ev.Err != nil {
		if retry, ok := e.retry(key, FetchRetry{Tag: e.tag, Kind: FetchInfoKind}); ok {
			return []Effect{retry}
		}
		e.infoBusy = false
		e.infoFailed = true
		e.logger.Warn().Err(ev.Err).Str("channel", e.tag.Channel).Msg("channel info unavailable, retrying on next poll")
		return e.staleEffect(true)
	}
	delete(e.retries, key)
	e.infoBusy = false
	e.infoFailed = false
	info := ev.Info
	e.info = &info
	e.policy = PolicyFor(info.Type, e.aiAddress(), e.cfg.TriggerTokens)

	// The tail may have merged under the provisional policy.
	effects := e.recovered()
	if tail, ok := e.log.Tail(); ok {
		effects = append(effects, e.applyTurn(TurnTailAdvanced{Tail: tail, Now: ev.Now})...)
	}
	return effects
}

func (e *Engine) pageLoaded(ev PageLoaded) []Effect {
	slot := ev.Request.Slot
	inflight, ok := e.pager.InFlight(slot)
	if !ok || inflight.Page != ev.Request.Page {
		return nil
	}

	key := retryKey{kind: FetchPageKind, slot: slot}
	if ev.Err != nil {
		e.logger.Debug().Err(ev.Err).
			Str("channel", e.tag.Channel).
			Str("slot", slot.String()).
			Uint64("page", ev.Request.Page).
			Msg("page fetch failed")
		if retry, ok := e.retry(key, FetchRetry{Tag: e.tag, Kind: FetchPageKind, Request: inflight}); ok {
			return []Effect{retry}
		}
		e.pager.Abandon(slot)
		e.logger.Warn().Err(ev.Err).
			Str("channel", e.tag.Channel).
			Uint64("page", ev.Request.Page).
			Msg("page fetch abandoned after retry")
		return e.staleEffect(true)
	}
	delete(e.retries, key)

	e.pager.Complete(slot, ev.IDs)
	result := e.log.Merge(ev.Messages)
	metrics.MessagesMerged.Add(float64(result.Added))
	if result.Dropped > 0 {
		metrics.MessagesDropped.Add(float64(result.Dropped))
		e.logger.Debug().Int("dropped", result.Dropped).Uint64("page", ev.Request.Page).Msg("dropped malformed messages")
	}

	effects := e.recovered()
	if result.Added > 0 {
		effects = append(effects,
			LogChanged{Messages: e.log.Snapshot(), Origin: slot},
			ScrollAdjust{Adjustment: e.anchor.Decide(slot, e.turn.Thinking())},
		)
	}
	if result.TailChanged && result.Tail != nil {
		effects = append(effects, e.applyTurn(TurnTailAdvanced{Tail: *result.Tail, Now: ev.Now})...)
	}

	if slot != SlotTail {
		return effects
	}
	if e.cfg.BackfillShortLatest && !e.backfilled && ev.Request.Page == e.pager.LatestPage() && uint64(ev.IDs) < e.pager.Size() {
		e.backfilled = true
		effects = append(effects, e.requestOlder()...)
	}
	return append(effects, e.nextTail()...)
}

func (e *Engine) fetchRetry(ev FetchRetry) []Effect {
	switch ev.Kind {
	case FetchCountKind:
		return []Effect{FetchCount{Tag: e.tag}}
	case FetchInfoKind:
		return []Effect{FetchInfo{Tag: e.tag}}
	case FetchPageKind:
		inflight, ok := e.pager.InFlight(ev.Request.Slot)
		if !ok || inflight.Page != ev.Request.Page {
			return nil
		}
		return []Effect{FetchPage{Tag: e.tag, Request: inflight}}
	}
	return nil
}

func (e *Engine) scrolled(ev Scrolled) []Effect {
	if !e.mounted {
		return nil
	}
	if e.anchor.Observe(ev.Viewport) && !e.pager.ReachedTop() {
		return e.requestOlder()
	}
	return nil
}

func (e *Engine) requestOlder() []Effect {
	if !e.mounted {
		return nil
	}
	req, ok := e.pager.RequestOlder()
	if !ok {
		return nil
	}
	return []Effect{FetchPage{Tag: e.tag, Request: req}}
}

func (e *Engine) nextTail() []Effect {
	req, ok := e.pager.NextTail()
	if !ok {
		return nil
	}
	return []Effect{FetchPage{Tag: e.tag, Request: req}}
}

func (e *Engine) submit(ev Submit) []Effect {
	if !e.mounted {
		return []Effect{SendResult{Err: ErrNotMounted}}
	}
	if e.info != nil && e.info.Status != types.ChannelStatusActive {
		return []Effect{SendResult{Err: ErrChannelInactive}}
	}
	req := ev.Request
	if req.ChannelID == "" {
		req.ChannelID = e.tag.Channel
	}

	effects := e.applyTurn(TurnSubmitted{
		Input: TriggerInput{
			Sender:   req.Sender,
			Content:  req.Content,
			Mentions: req.Mentions,
			Payment:  req.Payment,
		},
		TailIndex: e.log.TailIndex(),
		Now:       ev.Now,
	})
	var armed time.Time
	for _, effect := range effects {
		if timers, ok := effect.(StartTurnTimers); ok {
			armed = timers.Since
		}
	}
	return append(effects, Send{Tag: e.tag, Request: req, ArmedSince: armed})
}

func (e *Engine) sendDone(ev SendDone) []Effect {
	if ev.Err != nil {
		var effects []Effect
		if !ev.ArmedSince.IsZero() {
			effects = e.applyTurn(TurnSendFailed{Since: ev.ArmedSince})
		}
		return append(effects, SendResult{Err: ev.Err})
	}
	receipt := ev.Receipt
	effects := []Effect{SendResult{Receipt: &receipt}, Repoll{Tag: e.tag}}
	return append(effects, e.poll()...)
}

func (e *Engine) applyTurn(ev TurnEvent) []Effect {
	prev := e.turn
	next, turnEffects := Transition(prev, ev, e.turnConfig())
	e.turn = next

	var effects []Effect
	if next.TurnState != prev.TurnState {
		metrics.TurnTransitions.WithLabelValues(prev.Phase.String(), next.Phase.String()).Inc()
		e.logger.Debug().
			Str("channel", e.tag.Channel).
			Str("from", prev.Phase.String()).
			Str("to", next.Phase.String()).
			Bool("overdue", next.Overdue).
			Msg("turn transition")
		effects = append(effects, TurnChanged{State: next.TurnState})
	}
	for _, effect := range turnEffects {
		switch effect := effect.(type) {
		case ArmTimers:
			effects = append(effects, StartTurnTimers{
				Tag:   e.tag,
				Since: effect.Since,
				Soft:  e.cfg.SoftTimeout,
				Hard:  e.cfg.HardTimeout,
			})
		case RepollNow:
			effects = append(effects, e.poll()...)
		}
	}
	return effects
}

func (e *Engine) turnConfig() TurnConfig {
	return TurnConfig{
		AIAddress:   e.aiAddress(),
		Policy:      e.policy,
		SoftTimeout: e.cfg.SoftTimeout,
		HardTimeout: e.cfg.HardTimeout,
	}
}

// aiAddress is the configured AI address, falling back to the creator of an
// AI home channel.
func (e *Engine) aiAddress() string {
	if e.cfg.AIAddress != "" {
		return e.cfg.AIAddress
	}
	if e.info != nil && e.info.Type == types.ChannelTypeAiHome {
		return e.info.Creator
	}
	return ""
}

func (e *Engine) retry(key retryKey, next FetchRetry) (Effect, bool) {
	b, ok := e.retries[key]
	if !ok {
		b = e.cfg.RetryPolicy()
		e.retries[key] = b
	}
	wait := b.NextBackOff()
	if wait == backoff.Stop {
		delete(e.retries, key)
		return nil, false
	}
	metrics.RetriesTotal.WithLabelValues(key.kind.String()).Inc()
	return Delay{After: wait, Event: next}, true
}

// recovered clears the stale flag after a successful fetch, unless the
// channel info is still missing.
func (e *Engine) recovered() []Effect {
	if e.infoFailed {
		return nil
	}
	return e.staleEffect(false)
}

func (e *Engine) staleEffect(stale bool) []Effect {
	if e.stale == stale {
		return nil
	}
	e.stale = stale
	if stale {
		metrics.StaleState.Set(1)
	} else {
		metrics.StaleState.Set(0)
	}
	return []Effect{StaleChanged{Stale: stale}}
}

// Messages returns a copy of the merged log.
func (e *Engine) Messages() []types.Message {
	return e.log.Snapshot()
}

// Turn returns the current turn state.
func (e *Engine) Turn() types.TurnState {
	return e.turn.TurnState
}

// Snapshot returns the derived channel snapshot.
func (e *Engine) Snapshot() types.ChannelSnapshot {
	snapshot := types.ChannelSnapshot{TotalMessageCount: e.pager.Count()}
	if e.info != nil {
		snapshot.ChannelInfo = *e.info
	} else {
		snapshot.ID = e.tag.Channel
	}
	return snapshot
}

// State is a debugging snapshot of the engine.
type State struct {
	Channel      string             `json:"channel"`
	Gen          uint64             `json:"gen"`
	Info         *types.ChannelInfo `json:"info,omitempty"`
	Count        uint64             `json:"count"`
	LatestPage   uint64             `json:"latest_page"`
	LoadedPages  []uint64           `json:"loaded_pages"`
	TailInFlight *uint64            `json:"tail_in_flight,omitempty"`
	HeadInFlight *uint64            `json:"head_in_flight,omitempty"`
	ReachedTop   bool               `json:"reached_top"`
	Empty        bool               `json:"empty"`
	Stale        bool               `json:"stale"`
	NearBottom   bool               `json:"near_bottom"`
	Messages     int                `json:"messages"`
	TailIndex    int64              `json:"tail_index"`
	Turn         types.TurnState    `json:"turn"`
}

// State returns a debugging snapshot.
func (e *Engine) State() State {
	state := State{
		Channel:     e.tag.Channel,
		Gen:         e.tag.Gen,
		Info:        e.info,
		Count:       e.pager.Count(),
		LatestPage:  e.pager.LatestPage(),
		LoadedPages: e.pager.LoadedPages(),
		ReachedTop:  e.pager.ReachedTop(),
		Empty:       e.pager.Empty(),
		Stale:       e.stale,
		NearBottom:  e.anchor.NearBottom(),
		Messages:    e.log.Len(),
		TailIndex:   e.log.TailIndex(),
		Turn:        e.turn.TurnState,
	}
	if req, ok := e.pager.InFlight(SlotTail); ok {
		page := req.Page
		state.TailInFlight = &page
	}
	if req, ok := e.pager.InFlight(SlotHead); ok {
		page := req.Page
		state.HeadInFlight = &page
	}
	return state
}
