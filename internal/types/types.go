package types

import (
	"errors"
	"fmt"
	"time"
)

// MessageType represents the kind of ledger message.
type MessageType uint8

const (
	MessageTypeNormal MessageType = iota
	MessageTypeAction
	MessageTypeSystem
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeNormal:
		return "normal"
	case MessageTypeAction:
		return "action"
	case MessageTypeSystem:
		return "system"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// NoReply marks a message that does not reply to another message.
const NoReply int64 = -1

// Attachment is an opaque typed payload carried on a message.
type Attachment struct {
	Type    uint8  `json:"attachment_type"`
	Payload string `json:"attachment_json"`
}

// Message represents a channel message stored on the ledger.
type Message struct {
	Index       uint64       `json:"index"`
	ChannelID   string       `json:"channel_id"`
	Sender      string       `json:"sender"`
	Content     string       `json:"content"`
	Timestamp   uint64       `json:"timestamp"`
	Type        MessageType  `json:"message_type"`
	Mentions    []string     `json:"mentions"`
	ReplyTo     int64        `json:"reply_to"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

var (
	errMissingChannel = errors.New("message missing channel id")
	errMissingSender  = errors.New("message missing sender")
)

// Validate reports whether the message carries the fields a merge relies on.
func (m Message) Validate() error {
	if m.ChannelID == "" {
		return errMissingChannel
	}
	if m.Sender == "" {
		return errMissingSender
	}
	if m.Type > MessageTypeSystem {
		return fmt.Errorf("message %d: unknown message type %d", m.Index, m.Type)
	}
	if m.ReplyTo < NoReply {
		return fmt.Errorf("message %d: invalid reply_to %d", m.Index, m.ReplyTo)
	}
	return nil
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(int64(m.Timestamp))
}

// HasReply reports whether the message replies to another message.
func (m Message) HasReply() bool {
	return m.ReplyTo >= 0
}

// ChannelType identifies how the AI participates in a channel.
type ChannelType uint8

const (
	ChannelTypeAiHome ChannelType = iota
	ChannelTypeAiPeer
	ChannelTypeTopic
)

func (t ChannelType) String() string {
	switch t {
	case ChannelTypeAiHome:
		return "ai-home"
	case ChannelTypeAiPeer:
		return "ai-peer"
	case ChannelTypeTopic:
		return "topic"
	}
	return fmt.Sprintf("channel-type(%d)", uint8(t))
}

// ChannelStatus is the lifecycle state of a channel.
type ChannelStatus uint8

const (
	ChannelStatusActive ChannelStatus = iota
	ChannelStatusClosed
	ChannelStatusBanned
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelStatusActive:
		return "active"
	case ChannelStatusClosed:
		return "closed"
	case ChannelStatusBanned:
		return "banned"
	}
	return fmt.Sprintf("channel-status(%d)", uint8(s))
}

// ChannelInfo is the static metadata of a channel.
type ChannelInfo struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Type    ChannelType   `json:"channel_type"`
	Status  ChannelStatus `json:"status"`
	Creator string        `json:"creator"`
}

// ChannelSnapshot is the client's derived view of a channel.
type ChannelSnapshot struct {
	ChannelInfo
	TotalMessageCount uint64 `json:"total_message_count"`
}

// TurnPhase is the phase of the AI conversation turn.
type TurnPhase int

const (
	TurnIdle TurnPhase = iota
	TurnAwaitingAiReply
	TurnAiReplied
)

func (p TurnPhase) String() string {
	switch p {
	case TurnIdle:
		return "idle"
	case TurnAwaitingAiReply:
		return "awaiting_ai_reply"
	case TurnAiReplied:
		return "ai_replied"
	}
	return fmt.Sprintf("turn(%d)", int(p))
}

// TurnState reports whether the AI participant is composing a reply.
// Since is set only while awaiting a reply. Overdue is set once the soft
// timeout passes without a reply.
type TurnState struct {
	Phase   TurnPhase `json:"phase"`
	Since   time.Time `json:"since,omitempty"`
	Overdue bool      `json:"overdue,omitempty"`
}

// Thinking reports whether the AI is presumed to be composing a reply.
func (s TurnState) Thinking() bool {
	return s.Phase == TurnAwaitingAiReply
}

// Payment is an optional transfer attached to a message.
type Payment struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// SendRequest describes a message submitted by the local user.
type SendRequest struct {
	ChannelID string   `json:"channel_id"`
	Sender    string   `json:"sender"`
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions"`
	ReplyTo   int64    `json:"reply_to"`
	Payment   *Payment `json:"payment,omitempty"`
}

// Receipt is the outcome of a successful send.
type Receipt struct {
	TxHash string  `json:"tx_hash"`
	Index  *uint64 `json:"index,omitempty"`
}
