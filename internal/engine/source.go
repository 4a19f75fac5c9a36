// Package engine keeps a channel's message log in sync with the ledger.
//
// The Engine is a reducer: it consumes Events and returns Effects, and it is
// owned by exactly one goroutine. The Runner is that goroutine; it executes
// fetch effects against a Source concurrently and feeds their results back
// as tagged events, so late responses for a channel that is no longer
// mounted are dropped instead of merged.
package engine

import (
	"context"

	"github.com/adamavenir/ledgerchat/internal/types"
)

// Source is the remote ledger the engine reads from and posts to.
// MessageObjects may return messages in any order.
type Source interface {
	MessageCount(ctx context.Context, channelID string) (uint64, error)
	MessagePage(ctx context.Context, channelID string, offset, size uint64) ([]string, error)
	MessageObjects(ctx context.Context, ids []string) ([]types.Message, error)
	ChannelInfo(ctx context.Context, channelID string) (types.ChannelInfo, error)
	IsMember(ctx context.Context, channelID, address string) (bool, error)
	SendMessage(ctx context.Context, req types.SendRequest) (types.Receipt, error)
}

// View receives the engine's notifications. Calls happen on the Runner
// goroutine and must not block.
type View interface {
	OnLogChanged(messages []types.Message, origin Slot)
	OnTurnStateChanged(state types.TurnState)
	OnScrollAdjustmentNeeded(adj Adjustment)
	OnStaleChanged(stale bool)
	OnSendResult(receipt *types.Receipt, err error)
}

// BaseView implements View with no-ops, for embedding.
type BaseView struct{}

func (BaseView) OnLogChanged([]types.Message, Slot) {}
func (BaseView) OnTurnStateChanged(types.TurnState) {}
func (BaseView) OnScrollAdjustmentNeeded(Adjustment) {}
func (BaseView) OnStaleChanged(bool) {}
func (BaseView) OnSendResult(*types.Receipt, error) {}
