package engine

import (
	"time"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

const (
	DefaultSoftTimeout = 60 * time.Second
	DefaultHardTimeout = 120 * time.Second
)

// TimeoutTier distinguishes the two AI reply timers.
type TimeoutTier int

const (
	TierSoft TimeoutTier = iota
	TierHard
)

func (t TimeoutTier) String() string {
	if t == TierHard {
		return "hard"
	}
	return "soft"
}

// TriggerInput is what a policy inspects to decide whether a user message
// addresses the AI.
type TriggerInput struct {
	Sender   string
	Content  string
	Mentions []string
	Payment  *types.Payment
}

// TriggerPolicy decides whether a user message starts an AI turn.
type TriggerPolicy interface {
	Triggers(in TriggerInput) bool
}

// PeerPolicy is used in 1:1 AI channels: every user message expects a reply.
// Without a known AI address no reply could be detected, so nothing arms.
type PeerPolicy struct {
	AIAddress string
}

func (p PeerPolicy) Triggers(in TriggerInput) bool {
	return p.AIAddress != "" && !core.SameAddress(in.Sender, p.AIAddress)
}

// MentionPolicy fires on an explicit mention of the AI, a reserved trigger
// token at the start of the message, or a payment to the AI.
type MentionPolicy struct {
	AIAddress     string
	TriggerTokens []string
}

func (p MentionPolicy) Triggers(in TriggerInput) bool {
	if p.AIAddress == "" || core.SameAddress(in.Sender, p.AIAddress) {
		return false
	}
	if core.MentionsAddress(in.Mentions, p.AIAddress) {
		return true
	}
	if core.HasTriggerToken(in.Content, p.TriggerTokens) {
		return true
	}
	return in.Payment != nil && in.Payment.Amount > 0 && core.SameAddress(in.Payment.To, p.AIAddress)
}

// PolicyFor returns the trigger policy for a channel type.
func PolicyFor(channelType types.ChannelType, aiAddress string, tokens []string) TriggerPolicy {
	if channelType == types.ChannelTypeAiPeer {
		return PeerPolicy{AIAddress: aiAddress}
	}
	return MentionPolicy{AIAddress: aiAddress, TriggerTokens: tokens}
}

// Turn is the tracker's full state: the reported TurnState plus the log
// index the awaited reply must come after.
type Turn struct {
	types.TurnState
	After int64
}

// TurnConfig parameterizes transitions.
type TurnConfig struct {
	AIAddress   string
	Policy      TriggerPolicy
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

// TurnEvent is an input to Transition.
type TurnEvent interface {
	turnEvent()
}

// TurnSubmitted: the local user submitted a message. TailIndex is the log's
// tail index at submission time, -1 when empty.
type TurnSubmitted struct {
	Input     TriggerInput
	TailIndex int64
	Now       time.Time
}

// TurnSendFailed: the send that armed the turn at Since failed.
type TurnSendFailed struct {
	Since time.Time
}

// TurnTailAdvanced: a merge moved the sorted log's tail to Tail.
type TurnTailAdvanced struct {
	Tail types.Message
	Now  time.Time
}

// TurnTimer: a timer armed for the turn started at Since fired.
type TurnTimer struct {
	Tier  TimeoutTier
	Since time.Time
}

// TurnReset: the channel changed.
type TurnReset struct{}

func (TurnSubmitted) turnEvent()    {}
func (TurnSendFailed) turnEvent()   {}
func (TurnTailAdvanced) turnEvent() {}
func (TurnTimer) turnEvent()        {}
func (TurnReset) turnEvent()        {}

// TurnEffect is a side effect requested by a transition.
type TurnEffect interface {
	turnEffect()
}

// ArmTimers asks for the soft and hard timers of the turn started at Since.
type ArmTimers struct {
	Since time.Time
}

// RepollNow asks for an immediate count poll.
type RepollNow struct{}

func (ArmTimers) turnEffect() {}
func (RepollNow) turnEffect() {}

// Transition applies ev to cur and returns the next state and its effects.
func Transition(cur Turn, ev TurnEvent, cfg TurnConfig) (Turn, []TurnEffect) {
	switch ev := ev.(type) {
	case TurnReset:
		return idleTurn(), nil

	case TurnSubmitted:
		if cfg.Policy != nil && cfg.Policy.Triggers(ev.Input) {
			return awaiting(ev.Now, ev.TailIndex), []TurnEffect{ArmTimers{Since: ev.Now}}
		}
		if cur.Phase == types.TurnAiReplied {
			return idleTurn(), nil
		}
		return cur, nil

	case TurnSendFailed:
		if cur.Phase == types.TurnAwaitingAiReply && cur.Since.Equal(ev.Since) {
			return idleTurn(), nil
		}
		return cur, nil

	case TurnTailAdvanced:
		tail := ev.Tail
		if cfg.AIAddress != "" && core.SameAddress(tail.Sender, cfg.AIAddress) {
			if cur.Phase == types.TurnAwaitingAiReply && int64(tail.Index) > cur.After {
				return Turn{TurnState: types.TurnState{Phase: types.TurnAiReplied}, After: int64(tail.Index)}, nil
			}
			return cur, nil
		}
		if cur.Phase == types.TurnAwaitingAiReply {
			return cur, nil
		}
		if tail.Type == types.MessageTypeNormal && cfg.Policy != nil {
			input := TriggerInput{Sender: tail.Sender, Content: tail.Content, Mentions: tail.Mentions}
			since := tail.Time()
			if cfg.Policy.Triggers(input) && ev.Now.Sub(since) < cfg.HardTimeout {
				return awaiting(since, int64(tail.Index)), []TurnEffect{ArmTimers{Since: since}}
			}
		}
		if cur.Phase == types.TurnAiReplied {
			return idleTurn(), nil
		}
		return cur, nil

	case TurnTimer:
		if cur.Phase != types.TurnAwaitingAiReply || !cur.Since.Equal(ev.Since) {
			return cur, nil
		}
		if ev.Tier == TierHard {
			return idleTurn(), nil
		}
		if cur.Overdue {
			return cur, nil
		}
		next := cur
		next.Overdue = true
		return next, []TurnEffect{RepollNow{}}
	}
	return cur, nil
}

func idleTurn() Turn {
	return Turn{TurnState: types.TurnState{Phase: types.TurnIdle}, After: -1}
}

func awaiting(since time.Time, after int64) Turn {
	return Turn{
		TurnState: types.TurnState{Phase: types.TurnAwaitingAiReply, Since: since},
		After:     after,
	}
}
