package engine

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/adamavenir/ledgerchat/internal/types"
)

func mountEngine(t *testing.T, cfg Config) (*Engine, Tag) {
	t.Helper()
	if cfg.PageSize == 0 {
		cfg.PageSize = 50
	}
	e := New(cfg)
	effects := e.Update(Mount{Channel: testChannel, Now: t0})
	only[FetchCount](t, effects)
	only[FetchInfo](t, effects)
	return e, e.tag
}

func loadCount(t *testing.T, e *Engine, tag Tag, n uint64) []Effect {
	t.Helper()
	return e.Update(CountLoaded{Tag: tag, Count: n})
}

func loadPage(e *Engine, tag Tag, req PageRequest, messages []types.Message) []Effect {
	return e.Update(PageLoaded{Tag: tag, Request: req, IDs: len(messages), Messages: messages, Now: t0.Add(time.Hour)})
}

func TestColdStartLoadsLatestPageOnly(t *testing.T) {
	e, tag := mountEngine(t, Config{AIAddress: aiAddr})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))
	if fetch.Request.Page != 2 || fetch.Request.Offset != 100 || fetch.Request.Size != 50 {
		t.Fatalf("unexpected first fetch %+v", fetch.Request)
	}

	effects := loadPage(e, tag, fetch.Request, msgRange(100, 136, userAddr))
	changed := only[LogChanged](t, effects)
	if len(changed.Messages) != 37 || changed.Messages[0].Index != 100 || changed.Messages[36].Index != 136 {
		t.Fatalf("unexpected log after cold start: %v", indices(changed.Messages))
	}
	if changed.Origin != SlotTail {
		t.Fatalf("expected tail origin, got %s", changed.Origin)
	}
	none[FetchPage](t, effects)

	adj := only[ScrollAdjust](t, effects)
	if adj.Adjustment.Kind != AdjustToBottom {
		t.Fatalf("cold start should scroll to bottom, got %s", adj.Adjustment.Kind)
	}
}

func TestStaleCountRollbackIgnored(t *testing.T) {
	e, tag := mountEngine(t, Config{})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))
	loadPage(e, tag, fetch.Request, msgRange(100, 136, userAddr))

	e.Update(PollTick{Now: t0})
	if effects := loadCount(t, e, tag, 135); len(effects) != 0 {
		t.Fatalf("stale count produced effects: %#v", effects)
	}
	if got := e.State().Count; got != 137 {
		t.Fatalf("count rolled back to %d", got)
	}

	e.Update(PollTick{Now: t0})
	fetch = only[FetchPage](t, loadCount(t, e, tag, 140))
	if fetch.Request.Page != 2 || fetch.Request.Offset != 100 {
		t.Fatalf("expected page 2 from count 140, got %+v", fetch.Request)
	}
	if got := e.State(); got.Count != 140 || got.LatestPage != 2 {
		t.Fatalf("unexpected state %+v", got)
	}

	effects := loadPage(e, tag, fetch.Request, msgRange(100, 139, userAddr))
	if changed := only[LogChanged](t, effects); len(changed.Messages) != 40 {
		t.Fatalf("expected 40 messages, got %d", len(changed.Messages))
	}
}

func TestNoDuplicateFetches(t *testing.T) {
	e, tag := mountEngine(t, Config{})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))
	if effects := e.Update(LatestRequested{}); len(effects) != 0 {
		t.Fatalf("second latest request issued a fetch: %#v", effects)
	}
	if effects := loadCount(t, e, tag, 137); len(effects) != 0 {
		t.Fatalf("repeat count issued a fetch: %#v", effects)
	}
	if effects := e.Update(PollTick{Now: t0}); len(find[FetchCount](effects)) != 1 {
		t.Fatalf("expected a poll once the count settled")
	}
	if effects := e.Update(PollTick{Now: t0}); len(effects) != 0 {
		t.Fatalf("overlapping poll issued: %#v", effects)
	}

	loadPage(e, tag, fetch.Request, msgRange(100, 136, userAddr))

	older := only[FetchPage](t, e.Update(OlderRequested{}))
	if older.Request.Page != 1 || older.Request.Slot != SlotHead {
		t.Fatalf("unexpected older request %+v", older.Request)
	}
	if effects := e.Update(OlderRequested{}); len(effects) != 0 {
		t.Fatalf("second older request issued a fetch: %#v", effects)
	}
	if effects := e.Update(Scrolled{Viewport: Viewport{Top: 0, Height: 500, Client: 100}}); len(effects) != 0 {
		t.Fatalf("scroll to top issued a duplicate fetch: %#v", effects)
	}
}

func TestReachedTopIsTerminal(t *testing.T) {
	e, tag := mountEngine(t, Config{})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))
	loadPage(e, tag, fetch.Request, msgRange(100, 136, userAddr))

	older := only[FetchPage](t, e.Update(OlderRequested{}))
	effects := loadPage(e, tag, older.Request, nil)
	none[LogChanged](t, effects)
	if !e.State().ReachedTop {
		t.Fatalf("expected reached top after empty page")
	}

	for i := 0; i < 3; i++ {
		if effects := e.Update(OlderRequested{}); len(effects) != 0 {
			t.Fatalf("older request after top: %#v", effects)
		}
		if effects := e.Update(Scrolled{Viewport: Viewport{Top: 0, Height: 500, Client: 100}}); len(effects) != 0 {
			t.Fatalf("scroll after top: %#v", effects)
		}
	}
}

func TestScrollNearTopLoadsOlderAndPreservesPosition(t *testing.T) {
	e, tag := mountEngine(t, Config{})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))
	loadPage(e, tag, fetch.Request, msgRange(100, 136, userAddr))

	if effects := e.Update(Scrolled{Viewport: Viewport{Top: 400, Height: 1000, Client: 100}}); len(effects) != 0 {
		t.Fatalf("mid-scroll issued effects: %#v", effects)
	}
	older := only[FetchPage](t, e.Update(Scrolled{Viewport: Viewport{Top: 20, Height: 1000, Client: 100}}))

	effects := loadPage(e, tag, older.Request, msgRange(50, 99, userAddr))
	if changed := only[LogChanged](t, effects); changed.Origin != SlotHead || len(changed.Messages) != 87 {
		t.Fatalf("unexpected head merge %s / %d", changed.Origin, len(changed.Messages))
	}
	adj := only[ScrollAdjust](t, effects).Adjustment
	if adj.Kind != AdjustPreserve {
		t.Fatalf("expected preserve, got %+v", adj)
	}
}

func TestAiPeerSubmitArmsImmediately(t *testing.T) {
	e, tag := mountEngine(t, Config{AIAddress: aiAddr})
	e.Update(InfoLoaded{Tag: tag, Info: types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeAiPeer, Creator: userAddr}})

	now := t0.Add(time.Minute)
	effects := e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "what's the weather"}, Now: now})

	turn := only[TurnChanged](t, effects)
	if turn.State.Phase != types.TurnAwaitingAiReply || !turn.State.Since.Equal(now) {
		t.Fatalf("expected awaiting at submit time, got %+v", turn.State)
	}
	timers := only[StartTurnTimers](t, effects)
	if timers.Soft != DefaultSoftTimeout || timers.Hard != DefaultHardTimeout || !timers.Since.Equal(now) {
		t.Fatalf("unexpected timers %+v", timers)
	}
	send := only[Send](t, effects)
	if send.Request.ChannelID != testChannel || !send.ArmedSince.Equal(now) {
		t.Fatalf("unexpected send %+v", send)
	}
}

func TestAiHomeSubmitNeedsMention(t *testing.T) {
	e, tag := mountEngine(t, Config{})
	e.Update(InfoLoaded{Tag: tag, Info: types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeAiHome, Creator: aiAddr}})

	effects := e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "hello all"}, Now: t0})
	none[TurnChanged](t, effects)
	if send := only[Send](t, effects); !send.ArmedSince.IsZero() {
		t.Fatalf("unarmed send carried a turn start")
	}

	effects = e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "@ai hi", Mentions: []string{aiAddr}}, Now: t0})
	if turn := only[TurnChanged](t, effects); turn.State.Phase != types.TurnAwaitingAiReply {
		t.Fatalf("creator fallback should make the mention arm, got %+v", turn.State)
	}
}

func TestSubmitRejectedForClosedChannel(t *testing.T) {
	e, tag := mountEngine(t, Config{AIAddress: aiAddr})
	e.Update(InfoLoaded{Tag: tag, Info: types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeAiPeer, Status: types.ChannelStatusClosed}})

	effects := e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "hi"}, Now: t0})
	result := only[SendResult](t, effects)
	if !errors.Is(result.Err, ErrChannelInactive) {
		t.Fatalf("expected ErrChannelInactive, got %v", result.Err)
	}
	none[Send](t, effects)
	none[TurnChanged](t, effects)
}

func TestLateHeadPageDoesNotReopenTurn(t *testing.T) {
	e, tag := mountEngine(t, Config{AIAddress: aiAddr})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 136))
	loadPage(e, tag, fetch.Request, msgRange(100, 135, userAddr))

	submitted := t0.Add(time.Hour)
	effects := e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "/ai summarize"}, Now: submitted})
	send := only[Send](t, effects)

	effects = e.Update(SendDone{Tag: tag, Receipt: types.Receipt{TxHash: "0xabc"}, ArmedSince: send.ArmedSince})
	only[Repoll](t, effects)
	only[FetchCount](t, effects)

	tail := only[FetchPage](t, loadCount(t, e, tag, 137))
	head := only[FetchPage](t, e.Update(OlderRequested{}))
	if tail.Request.Page != 2 || !tail.Request.Refresh || head.Request.Page != 1 {
		t.Fatalf("unexpected fetches tail=%+v head=%+v", tail.Request, head.Request)
	}

	page2 := append(msgRange(100, 135, userAddr), msg(136, aiAddr))
	effects = loadPage(e, tag, tail.Request, page2)
	if turn := only[TurnChanged](t, effects); turn.State.Phase != types.TurnAiReplied {
		t.Fatalf("expected ai replied, got %+v", turn.State)
	}

	page1 := msgRange(50, 99, userAddr)
	page1[49].Mentions = []string{aiAddr}
	page1[10] = msg(60, aiAddr)
	effects = loadPage(e, tag, head.Request, page1)
	none[TurnChanged](t, effects)
	none[StartTurnTimers](t, effects)
	if e.Turn().Phase != types.TurnAiReplied {
		t.Fatalf("late page changed the turn: %+v", e.Turn())
	}
	if got := e.State().Messages; got != 87 {
		t.Fatalf("expected 87 messages, got %d", got)
	}
}

func TestTurnTimeoutsConverge(t *testing.T) {
	e, tag := mountEngine(t, Config{AIAddress: aiAddr})
	e.Update(InfoLoaded{Tag: tag, Info: types.ChannelInfo{Type: types.ChannelTypeAiPeer}})
	only[FetchPage](t, loadCount(t, e, tag, 0))

	effects := e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "ping"}, Now: t0})
	timers := only[StartTurnTimers](t, effects)

	effects = e.Update(TurnTimerFired{Tag: tag, Tier: TierSoft, Since: timers.Since, Now: t0.Add(time.Minute)})
	if turn := only[TurnChanged](t, effects); !turn.State.Overdue || turn.State.Phase != types.TurnAwaitingAiReply {
		t.Fatalf("expected overdue, got %+v", turn.State)
	}
	only[FetchCount](t, effects)

	effects = e.Update(TurnTimerFired{Tag: tag, Tier: TierHard, Since: timers.Since, Now: t0.Add(2 * time.Minute)})
	if turn := only[TurnChanged](t, effects); turn.State.Phase != types.TurnIdle {
		t.Fatalf("expected idle after hard timeout, got %+v", turn.State)
	}
}

func TestSendFailureDisarmsTurn(t *testing.T) {
	e, tag := mountEngine(t, Config{AIAddress: aiAddr})
	e.Update(InfoLoaded{Tag: tag, Info: types.ChannelInfo{Type: types.ChannelTypeAiPeer}})

	send := only[Send](t, e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "ping"}, Now: t0}))
	boom := errors.New("insufficient gas")
	effects := e.Update(SendDone{Tag: tag, Err: boom, ArmedSince: send.ArmedSince})

	if turn := only[TurnChanged](t, effects); turn.State.Phase != types.TurnIdle {
		t.Fatalf("expected idle after failed send, got %+v", turn.State)
	}
	if result := only[SendResult](t, effects); !errors.Is(result.Err, boom) {
		t.Fatalf("expected send error surfaced, got %v", result.Err)
	}
}

func TestChannelSwitchDropsLateResponses(t *testing.T) {
	e, tagA := mountEngine(t, Config{})
	fetchA := only[FetchPage](t, loadCount(t, e, tagA, 137))

	e.Update(Mount{Channel: otherChannel, Now: t0})
	tagB := e.tag
	if tagB == tagA {
		t.Fatalf("remount must change the tag")
	}

	if effects := loadPage(e, tagA, fetchA.Request, msgRange(100, 136, userAddr)); len(effects) != 0 {
		t.Fatalf("late page from previous channel applied: %#v", effects)
	}
	if effects := loadCount(t, e, tagA, 500); len(effects) != 0 {
		t.Fatalf("late count from previous channel applied: %#v", effects)
	}
	if e.State().Messages != 0 || e.State().Count != 0 {
		t.Fatalf("state contaminated: %+v", e.State())
	}

	// Back to the first channel: responses from the first mount are still late.
	e.Update(Mount{Channel: testChannel, Now: t0})
	if effects := loadCount(t, e, tagA, 137); len(effects) != 0 {
		t.Fatalf("response from an earlier mount of the same channel applied")
	}
}

func TestFetchRetryThenStale(t *testing.T) {
	e, tag := mountEngine(t, Config{})
	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))

	boom := errors.New("connection reset")
	delay := only[Delay](t, e.Update(PageLoaded{Tag: tag, Request: fetch.Request, Err: boom}))
	if delay.After != time.Second {
		t.Fatalf("expected 1s retry, got %s", delay.After)
	}
	retry, ok := delay.Event.(FetchRetry)
	if !ok || retry.Request.Page != 2 {
		t.Fatalf("unexpected retry event %#v", delay.Event)
	}

	again := only[FetchPage](t, e.Update(retry))
	effects := e.Update(PageLoaded{Tag: tag, Request: again.Request, Err: boom})
	if stale := only[StaleChanged](t, effects); !stale.Stale {
		t.Fatalf("expected stale after retry failed")
	}
	if e.State().TailInFlight != nil {
		t.Fatalf("abandoned fetch still holds the tail slot")
	}

	e.Update(PollTick{Now: t0})
	effects = loadCount(t, e, tag, 137)
	if stale := only[StaleChanged](t, effects); stale.Stale {
		t.Fatalf("expected recovery on successful poll")
	}
	if fetch := only[FetchPage](t, effects); fetch.Request.Page != 2 {
		t.Fatalf("expected page 2 re-requested, got %+v", fetch.Request)
	}
}

func TestCountRetry(t *testing.T) {
	e, tag := mountEngine(t, Config{})

	delay := only[Delay](t, e.Update(CountLoaded{Tag: tag, Err: errors.New("timeout")}))
	if _, ok := delay.Event.(FetchRetry); !ok {
		t.Fatalf("expected count retry")
	}
	only[FetchCount](t, e.Update(delay.Event))
	effects := e.Update(CountLoaded{Tag: tag, Err: errors.New("timeout")})
	only[StaleChanged](t, effects)
	if effects := e.Update(PollTick{Now: t0}); len(find[FetchCount](effects)) != 1 {
		t.Fatalf("polling must resume after a failed count")
	}
}

func TestBackfillShortLatestPage(t *testing.T) {
	e, tag := mountEngine(t, Config{BackfillShortLatest: true})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 105))
	effects := loadPage(e, tag, fetch.Request, msgRange(100, 104, userAddr))
	older := only[FetchPage](t, effects)
	if older.Request.Slot != SlotHead || older.Request.Page != 1 {
		t.Fatalf("expected backfill of page 1, got %+v", older.Request)
	}

	e2, tag2 := mountEngine(t, Config{})
	fetch = only[FetchPage](t, loadCount(t, e2, tag2, 105))
	none[FetchPage](t, loadPage(e2, tag2, fetch.Request, msgRange(100, 104, userAddr)))
}

func TestEmptyChannel(t *testing.T) {
	e, tag := mountEngine(t, Config{})
	fetch := only[FetchPage](t, loadCount(t, e, tag, 0))
	effects := loadPage(e, tag, fetch.Request, nil)
	none[LogChanged](t, effects)

	state := e.State()
	if !state.Empty || !state.ReachedTop {
		t.Fatalf("expected empty channel at top, got %+v", state)
	}
	if effects := e.Update(OlderRequested{}); len(effects) != 0 {
		t.Fatalf("older request on empty channel: %#v", effects)
	}
}

func TestStateReportsLoadedPages(t *testing.T) {
	e, tag := mountEngine(t, Config{})
	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))
	if state := e.State(); state.TailInFlight == nil || *state.TailInFlight != 2 {
		t.Fatalf("expected tail in flight for page 2, got %+v", state)
	}
	loadPage(e, tag, fetch.Request, msgRange(100, 136, userAddr))
	state := e.State()
	if !slices.Equal(state.LoadedPages, []uint64{2}) || state.TailIndex != 136 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestInfoFailureRefetchesOnPoll(t *testing.T) {
	e, tag := mountEngine(t, Config{AIAddress: aiAddr})
	boom := errors.New("object not found")

	delay := only[Delay](t, e.Update(InfoLoaded{Tag: tag, Err: boom}))
	only[FetchInfo](t, e.Update(delay.Event))
	effects := e.Update(InfoLoaded{Tag: tag, Err: boom})
	if stale := only[StaleChanged](t, effects); !stale.Stale {
		t.Fatalf("expected stale once channel info gave up")
	}

	fetch := only[FetchPage](t, loadCount(t, e, tag, 0))
	none[StaleChanged](t, loadPage(e, tag, fetch.Request, nil))

	effects = e.Update(PollTick{Now: t0})
	only[FetchInfo](t, effects)
	only[FetchCount](t, effects)
	if effects := e.Update(PollTick{Now: t0}); len(effects) != 0 {
		t.Fatalf("info refetch issued twice: %#v", effects)
	}

	effects = e.Update(InfoLoaded{Tag: tag, Info: types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeAiPeer}, Now: t0})
	if stale := only[StaleChanged](t, effects); stale.Stale {
		t.Fatalf("expected recovery once channel info loaded")
	}
	if effects := e.Update(PollTick{Now: t0}); len(find[FetchInfo](effects)) != 0 {
		t.Fatalf("loaded info refetched: %#v", effects)
	}

	effects = e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "hi"}, Now: t0})
	only[StartTurnTimers](t, effects)
	if send := only[Send](t, effects); !send.ArmedSince.Equal(t0) {
		t.Fatalf("peer channel submit should arm, got %+v", send)
	}
}

func TestLateInfoRechecksTail(t *testing.T) {
	e, tag := mountEngine(t, Config{AIAddress: aiAddr})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))
	tail := msg(136, userAddr)
	now := tail.Time().Add(10 * time.Second)
	effects := e.Update(PageLoaded{Tag: tag, Request: fetch.Request, IDs: 37, Messages: msgRange(100, 136, userAddr), Now: now})
	none[StartTurnTimers](t, effects)

	effects = e.Update(InfoLoaded{Tag: tag, Info: types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeAiPeer}, Now: now})
	if turn := only[TurnChanged](t, effects); turn.State.Phase != types.TurnAwaitingAiReply || !turn.State.Since.Equal(tail.Time()) {
		t.Fatalf("expected the unanswered tail to arm, got %+v", turn.State)
	}
	only[StartTurnTimers](t, effects)
}

func TestSubmitAtArmInstantWithoutTriggerStaysUnarmed(t *testing.T) {
	e, tag := mountEngine(t, Config{})
	e.Update(InfoLoaded{Tag: tag, Info: types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeAiHome, Creator: aiAddr}, Now: t0})

	fetch := only[FetchPage](t, loadCount(t, e, tag, 137))
	page := msgRange(100, 136, userAddr)
	page[36].Mentions = []string{aiAddr}
	since := page[36].Time()
	effects := e.Update(PageLoaded{Tag: tag, Request: fetch.Request, IDs: 37, Messages: page, Now: since})
	only[StartTurnTimers](t, effects)

	effects = e.Update(Submit{Request: types.SendRequest{Sender: userAddr, Content: "also this"}, Now: since})
	none[StartTurnTimers](t, effects)
	if send := only[Send](t, effects); !send.ArmedSince.IsZero() {
		t.Fatalf("send that armed nothing carried %s", send.ArmedSince)
	}
}
