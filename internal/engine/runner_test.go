package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/adamavenir/ledgerchat/internal/types"
)

type fakeSource struct {
	mu       sync.Mutex
	info     map[string]types.ChannelInfo
	messages map[string][]types.Message
	byID     map[string]types.Message
	// autoReply makes every send append an AI message after it.
	autoReply string
	sends     []types.SendRequest
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		info:     make(map[string]types.ChannelInfo),
		messages: make(map[string][]types.Message),
		byID:     make(map[string]types.Message),
	}
}

func (s *fakeSource) addChannel(info types.ChannelInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info[info.ID] = info
}

func (s *fakeSource) append(channelID, sender, content string) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(channelID, sender, content)
}

func (s *fakeSource) appendLocked(channelID, sender, content string) types.Message {
	index := uint64(len(s.messages[channelID]))
	m := types.Message{
		Index:     index,
		ChannelID: channelID,
		Sender:    sender,
		Content:   content,
		Timestamp: uint64(t0.UnixMilli()),
		ReplyTo:   types.NoReply,
	}
	s.messages[channelID] = append(s.messages[channelID], m)
	s.byID[fmt.Sprintf("%s/%d", channelID, index)] = m
	return m
}

func (s *fakeSource) MessageCount(_ context.Context, channelID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.messages[channelID])), nil
}

func (s *fakeSource) MessagePage(_ context.Context, channelID string, offset, size uint64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := uint64(len(s.messages[channelID]))
	var ids []string
	for i := offset; i < offset+size && i < total; i++ {
		ids = append(ids, fmt.Sprintf("%s/%d", channelID, i))
	}
	return ids, nil
}

func (s *fakeSource) MessageObjects(_ context.Context, ids []string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.byID[ids[i]])
	}
	return out, nil
}

func (s *fakeSource) ChannelInfo(_ context.Context, channelID string) (types.ChannelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.info[channelID]
	if !ok {
		return types.ChannelInfo{}, errors.New("channel not found")
	}
	return info, nil
}

func (s *fakeSource) IsMember(context.Context, string, string) (bool, error) {
	return true, nil
}

func (s *fakeSource) SendMessage(_ context.Context, req types.SendRequest) (types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, req)
	m := s.appendLocked(req.ChannelID, req.Sender, req.Content)
	if s.autoReply != "" {
		s.appendLocked(req.ChannelID, s.autoReply, "reply to "+req.Content)
	}
	index := m.Index
	return types.Receipt{TxHash: fmt.Sprintf("0xtx%d", index), Index: &index}, nil
}

type recordingView struct {
	BaseView
	mu       sync.Mutex
	messages []types.Message
	turns    []types.TurnState
	results  []error
}

func (v *recordingView) OnLogChanged(messages []types.Message, _ Slot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = messages
}

func (v *recordingView) OnTurnStateChanged(state types.TurnState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.turns = append(v.turns, state)
}

func (v *recordingView) OnSendResult(_ *types.Receipt, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results = append(v.results, err)
}

func (v *recordingView) lastTurn() types.TurnState {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.turns) == 0 {
		return types.TurnState{}
	}
	return v.turns[len(v.turns)-1]
}

func (v *recordingView) sawPhase(phase types.TurnPhase) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, state := range v.turns {
		if state.Phase == phase {
			return true
		}
	}
	return false
}

func (v *recordingView) messageCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.messages)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func startRunner(t *testing.T, src Source, view View, cfg Config) (*Runner, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(t0)
	r := NewRunner(src, view, RunnerConfig{
		Engine:       cfg,
		PollInterval: 3 * time.Second,
		Clock:        mock,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("runner returned %v", err)
		}
	})
	return r, mock
}

func TestRunnerColdStart(t *testing.T) {
	src := newFakeSource()
	src.addChannel(types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeTopic})
	for i := 0; i < 137; i++ {
		src.append(testChannel, userAddr, fmt.Sprintf("hello %d", i))
	}
	view := &recordingView{}
	r, _ := startRunner(t, src, view, Config{PageSize: 50})

	r.Mount(testChannel)
	waitFor(t, func() bool { return view.messageCount() == 37 })

	state := r.State()
	if state.Count != 137 || state.TailIndex != 136 || len(state.LoadedPages) != 1 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestRunnerPicksUpNewMessagesOnPoll(t *testing.T) {
	src := newFakeSource()
	src.addChannel(types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeTopic})
	src.append(testChannel, userAddr, "first")
	view := &recordingView{}
	r, mock := startRunner(t, src, view, Config{PageSize: 50})

	r.Mount(testChannel)
	waitFor(t, func() bool { return view.messageCount() == 1 })

	src.append(testChannel, aiAddr, "second")
	waitFor(t, func() bool {
		mock.Add(time.Second)
		return view.messageCount() == 2
	})
}

func TestRunnerAiReplyResolvesTurn(t *testing.T) {
	src := newFakeSource()
	src.addChannel(types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeAiPeer, Creator: userAddr})
	src.autoReply = aiAddr
	view := &recordingView{}
	r, mock := startRunner(t, src, view, Config{PageSize: 50, AIAddress: aiAddr})

	r.Mount(testChannel)
	waitFor(t, func() bool { return r.State().Info != nil && r.State().Empty })

	r.Submit(types.SendRequest{Sender: userAddr, Content: "ping"})
	waitFor(t, func() bool { return view.sawPhase(types.TurnAwaitingAiReply) })
	waitFor(t, func() bool {
		mock.Add(500 * time.Millisecond)
		return view.lastTurn().Phase == types.TurnAiReplied
	})
	if got := view.messageCount(); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}

func TestRunnerHardTimeoutReturnsToIdle(t *testing.T) {
	src := newFakeSource()
	src.addChannel(types.ChannelInfo{ID: testChannel, Type: types.ChannelTypeAiPeer})
	view := &recordingView{}
	r, mock := startRunner(t, src, view, Config{PageSize: 50, AIAddress: aiAddr})

	r.Mount(testChannel)
	waitFor(t, func() bool { return r.State().Info != nil })

	r.Submit(types.SendRequest{Sender: userAddr, Content: "anyone there"})
	waitFor(t, func() bool { return r.State().Turn.Phase == types.TurnAwaitingAiReply })
	start := mock.Now()
	waitFor(t, func() bool {
		mock.Add(5 * time.Second)
		return r.State().Turn.Phase == types.TurnIdle
	})
	if elapsed := mock.Now().Sub(start); elapsed < DefaultHardTimeout-5*time.Second {
		t.Fatalf("returned to idle after only %s", elapsed)
	}
}

func TestRunnerSendFailureSurfaces(t *testing.T) {
	src := newFakeSource()
	view := &recordingView{}
	r, _ := startRunner(t, src, view, Config{PageSize: 50})

	r.Submit(types.SendRequest{Sender: userAddr, Content: "too early"})
	waitFor(t, func() bool {
		view.mu.Lock()
		defer view.mu.Unlock()
		return len(view.results) == 1
	})
	view.mu.Lock()
	defer view.mu.Unlock()
	if !errors.Is(view.results[0], ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", view.results[0])
	}
}
