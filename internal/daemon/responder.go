// Package daemon runs a stand-in AI participant against a devnet ledger.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/db"
	"github.com/adamavenir/ledgerchat/internal/engine"
	"github.com/adamavenir/ledgerchat/internal/types"
)

const scanLimit = 100

// ReplyFunc produces the AI's reply to a triggering message.
type ReplyFunc func(info types.ChannelInfo, msg types.Message) string

// Config holds responder options.
type Config struct {
	Address       string
	TriggerTokens []string
	PollInterval  time.Duration
	ReplyDelay    time.Duration
	Reply         ReplyFunc
	Logger        zerolog.Logger
}

// DefaultConfig returns default responder configuration.
func DefaultConfig() Config {
	return Config{
		TriggerTokens: core.DefaultTriggerTokens,
		PollInterval:  2 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

// Responder watches the ledger and replies to messages addressed to the AI.
type Responder struct {
	ledger       *db.Ledger
	address      string
	tokens       []string
	pollInterval time.Duration
	replyDelay   time.Duration
	reply        ReplyFunc
	logger       zerolog.Logger

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a responder posting as cfg.Address.
func New(ledger *db.Ledger, cfg Config) (*Responder, error) {
	if !core.IsAddress(cfg.Address) {
		return nil, fmt.Errorf("responder address %q is not a ledger address", cfg.Address)
	}
	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.TriggerTokens == nil {
		cfg.TriggerTokens = defaults.TriggerTokens
	}
	if cfg.Reply == nil {
		cfg.Reply = EchoReply
	}
	return &Responder{
		ledger:       ledger,
		address:      core.NormalizeAddress(cfg.Address),
		tokens:       cfg.TriggerTokens,
		pollInterval: cfg.PollInterval,
		replyDelay:   cfg.ReplyDelay,
		reply:        cfg.Reply,
		logger:       cfg.Logger,
	}, nil
}

// EchoReply acknowledges the triggering message.
func EchoReply(info types.ChannelInfo, msg types.Message) string {
	content := strings.TrimSpace(msg.Content)
	if len(content) > 80 {
		content = content[:77] + "..."
	}
	return fmt.Sprintf("re #%d in %s: %s", msg.Index, info.Title, content)
}

// Address returns the address the responder posts as.
func (r *Responder) Address() string {
	return r.address
}

// Start begins the watch loop.
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("responder already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	changes, err := r.ledger.Watch(loopCtx, db.DefaultWatchDebounce)
	if err != nil {
		r.logger.Warn().Err(err).Msg("ledger watch unavailable, polling only")
		changes = nil
	}

	r.running = true
	r.stopCh = make(chan struct{})
	r.cancelFunc = cancel
	r.wg.Add(1)
	go r.watchLoop(loopCtx, changes)
	return nil
}

// Stop shuts the watch loop down and waits for it.
func (r *Responder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.cancelFunc()
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Responder) watchLoop(ctx context.Context, changes <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			r.scan(ctx)
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

func (r *Responder) scan(ctx context.Context) {
	replied, err := r.Tick(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn().Err(err).Msg("responder scan failed")
		return
	}
	if replied > 0 {
		r.logger.Debug().Int("replies", replied).Msg("responder posted replies")
	}
}

// Tick runs one pass over every channel the responder belongs to and returns
// how many replies it posted.
func (r *Responder) Tick(ctx context.Context) (int, error) {
	channels, err := r.ledger.ListChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	total := 0
	for _, channel := range channels {
		if channel.Status != types.ChannelStatusActive {
			continue
		}
		member, err := r.ledger.IsMember(ctx, channel.ID, r.address)
		if err != nil {
			return total, err
		}
		if !member {
			continue
		}
		n, err := r.handleChannel(ctx, channel)
		total += n
		if err != nil {
			return total, fmt.Errorf("channel %s: %w", core.ShortAddress(channel.ID), err)
		}
	}
	return total, nil
}

func (r *Responder) handleChannel(ctx context.Context, channel types.ChannelSnapshot) (int, error) {
	watermark, seen, err := r.ledger.Watermark(ctx, r.address, channel.ID)
	if err != nil {
		return 0, err
	}
	if !seen {
		// First sighting: start from the current tail instead of replaying history.
		return 0, r.ledger.SetWatermark(ctx, r.address, channel.ID, int64(channel.TotalMessageCount)-1)
	}

	messages, err := r.ledger.RecentMessages(ctx, channel.ID, watermark, scanLimit)
	if err != nil {
		return 0, err
	}
	policy := engine.PolicyFor(channel.Type, r.address, r.tokens)

	replied := 0
	for _, msg := range messages {
		if msg.Type == types.MessageTypeNormal && policy.Triggers(engine.TriggerInput{
			Sender:   msg.Sender,
			Content:  msg.Content,
			Mentions: msg.Mentions,
		}) {
			if err := r.respond(ctx, channel.ChannelInfo, msg); err != nil {
				return replied, err
			}
			replied++
			continue
		}
		if err := r.ledger.SetWatermark(ctx, r.address, channel.ID, int64(msg.Index)); err != nil {
			return replied, err
		}
	}
	return replied, nil
}

// respond posts the reply to msg and marks msg handled atomically.
func (r *Responder) respond(ctx context.Context, info types.ChannelInfo, msg types.Message) error {
	if r.replyDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.replyDelay):
		}
	}
	_, err := r.ledger.AppendReply(ctx, types.SendRequest{
		ChannelID: info.ID,
		Sender:    r.address,
		Content:   r.reply(info, msg),
		Mentions:  []string{msg.Sender},
		ReplyTo:   int64(msg.Index),
	}, int64(msg.Index))
	if err != nil {
		return fmt.Errorf("reply to #%d: %w", msg.Index, err)
	}
	r.logger.Info().Str("channel", core.ShortAddress(info.ID)).Uint64("reply_to", msg.Index).Msg("ai replied")
	return nil
}
