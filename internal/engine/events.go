package engine

import (
	"time"

	"github.com/adamavenir/ledgerchat/internal/types"
)

// Tag identifies the mount an async result belongs to. Gen increases on
// every mount, so switching A -> B -> A still drops A's first responses.
type Tag struct {
	Channel string
	Gen     uint64
}

// Event is an input to Engine.Update.
type Event interface {
	event()
}

// Mount tears down all state and starts syncing Channel.
type Mount struct {
	Channel string
	Now     time.Time
}

// PollTick asks for a count refresh.
type PollTick struct {
	Now time.Time
}

// CountLoaded carries a MessageCount result.
type CountLoaded struct {
	Tag   Tag
	Count uint64
	Err   error
}

// InfoLoaded carries a ChannelInfo result.
type InfoLoaded struct {
	Tag  Tag
	Info types.ChannelInfo
	Err  error
	Now  time.Time
}

// PageLoaded carries the ids and resolved messages for one page.
type PageLoaded struct {
	Tag      Tag
	Request  PageRequest
	IDs      int
	Messages []types.Message
	Err      error
	Now      time.Time
}

// FetchRetry re-issues a fetch after its backoff elapsed.
type FetchRetry struct {
	Tag     Tag
	Kind    FetchKind
	Request PageRequest
}

// Scrolled reports a user scroll.
type Scrolled struct {
	Viewport Viewport
}

// OlderRequested asks for the previous page explicitly.
type OlderRequested struct{}

// LatestRequested asks for the latest page explicitly.
type LatestRequested struct{}

// Submit sends a message from the local user.
type Submit struct {
	Request types.SendRequest
	Now     time.Time
}

// SendDone carries a SendMessage result. ArmedSince is the turn start the
// submission armed, zero when it armed nothing.
type SendDone struct {
	Tag        Tag
	Receipt    types.Receipt
	Err        error
	ArmedSince time.Time
}

// TurnTimerFired reports an AI reply timer.
type TurnTimerFired struct {
	Tag   Tag
	Tier  TimeoutTier
	Since time.Time
	Now   time.Time
}

func (Mount) event()           {}
func (PollTick) event()        {}
func (CountLoaded) event()     {}
func (InfoLoaded) event()      {}
func (PageLoaded) event()      {}
func (FetchRetry) event()      {}
func (Scrolled) event()        {}
func (OlderRequested) event()  {}
func (LatestRequested) event() {}
func (Submit) event()          {}
func (SendDone) event()        {}
func (TurnTimerFired) event()  {}

// FetchKind names a retryable fetch.
type FetchKind int

const (
	FetchCountKind FetchKind = iota
	FetchInfoKind
	FetchPageKind
)

func (k FetchKind) String() string {
	switch k {
	case FetchCountKind:
		return "count"
	case FetchInfoKind:
		return "info"
	}
	return "page"
}

// Effect is an output of Engine.Update for the Runner to execute.
type Effect interface {
	effect()
}

// FetchCount asks for MessageCount.
type FetchCount struct {
	Tag Tag
}

// FetchInfo asks for ChannelInfo.
type FetchInfo struct {
	Tag Tag
}

// FetchPage asks for MessagePage then MessageObjects.
type FetchPage struct {
	Tag     Tag
	Request PageRequest
}

// Delay posts Event after a pause.
type Delay struct {
	After time.Duration
	Event Event
}

// Send asks for SendMessage.
type Send struct {
	Tag        Tag
	Request    types.SendRequest
	ArmedSince time.Time
}

// StartTurnTimers arms the soft and hard timers for the turn started at
// Since. Deadlines are relative to Since, not to now.
type StartTurnTimers struct {
	Tag   Tag
	Since time.Time
	Soft  time.Duration
	Hard  time.Duration
}

// Repoll asks for the bounded post-send re-poll schedule.
type Repoll struct {
	Tag Tag
}

// LogChanged notifies the view of a new log snapshot.
type LogChanged struct {
	Messages []types.Message
	Origin   Slot
}

// TurnChanged notifies the view of a turn transition.
type TurnChanged struct {
	State types.TurnState
}

// ScrollAdjust tells the view how to move after a merge.
type ScrollAdjust struct {
	Adjustment Adjustment
}

// StaleChanged notifies the view that sync fell behind or recovered.
type StaleChanged struct {
	Stale bool
}

// SendResult notifies the view of a send outcome.
type SendResult struct {
	Receipt *types.Receipt
	Err     error
}

func (FetchCount) effect()      {}
func (FetchInfo) effect()       {}
func (FetchPage) effect()       {}
func (Delay) effect()           {}
func (Send) effect()            {}
func (StartTurnTimers) effect() {}
func (Repoll) effect()          {}
func (LogChanged) effect()      {}
func (TurnChanged) effect()     {}
func (ScrollAdjust) effect()    {}
func (StaleChanged) effect()    {}
func (SendResult) effect()      {}
