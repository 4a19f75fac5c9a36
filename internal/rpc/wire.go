package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/adamavenir/ledgerchat/internal/types"
)

// flexUint accepts u64 values encoded either as JSON numbers or strings.
type flexUint uint64

func (u *flexUint) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %s: %w", data, err)
	}
	*u = flexUint(v)
	return nil
}

// flexReply is a reply_to value; absent, null or "none" means no reply.
type flexReply struct {
	set   bool
	value int64
}

func (r *flexReply) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	switch raw {
	case "", "null", "none":
		*r = flexReply{}
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid reply_to %s: %w", data, err)
	}
	*r = flexReply{set: true, value: v}
	return nil
}

func (r flexReply) index() int64 {
	if !r.set || r.value < 0 {
		return types.NoReply
	}
	return r.value
}

type wireAttachment struct {
	Type    uint8  `json:"attachment_type"`
	Payload string `json:"attachment_json"`
}

type wireMessage struct {
	Index       flexUint         `json:"index"`
	ChannelID   string           `json:"channel_id"`
	Sender      string           `json:"sender"`
	Content     string           `json:"content"`
	Timestamp   flexUint         `json:"timestamp"`
	MessageType uint8            `json:"message_type"`
	Mentions    []string         `json:"mentions"`
	ReplyTo     flexReply        `json:"reply_to"`
	Attachments []wireAttachment `json:"attachments"`
}

type objectState struct {
	ID           string          `json:"id"`
	DecodedValue json.RawMessage `json:"decoded_value"`
}

// message decodes the object value. Decoded Move structs nest the fields
// under "value"; flat objects are accepted too.
func (s *objectState) message() (types.Message, error) {
	if len(s.DecodedValue) == 0 {
		return types.Message{}, fmt.Errorf("object %s has no decoded value", s.ID)
	}
	var nested struct {
		Value *wireMessage `json:"value"`
	}
	var wire wireMessage
	if err := json.Unmarshal(s.DecodedValue, &nested); err == nil && nested.Value != nil {
		wire = *nested.Value
	} else if err := json.Unmarshal(s.DecodedValue, &wire); err != nil {
		return types.Message{}, fmt.Errorf("object %s: %w", s.ID, err)
	}

	msg := types.Message{
		Index:     uint64(wire.Index),
		ChannelID: wire.ChannelID,
		Sender:    wire.Sender,
		Content:   wire.Content,
		Timestamp: uint64(wire.Timestamp),
		Type:      types.MessageType(wire.MessageType),
		Mentions:  wire.Mentions,
		ReplyTo:   wire.ReplyTo.index(),
	}
	for _, a := range wire.Attachments {
		msg.Attachments = append(msg.Attachments, types.Attachment{Type: a.Type, Payload: a.Payload})
	}
	if err := msg.Validate(); err != nil {
		return types.Message{}, fmt.Errorf("object %s: %w", s.ID, err)
	}
	return msg, nil
}

type wireChannel struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ChannelType uint8  `json:"channel_type"`
	Status      uint8  `json:"status"`
	Creator     string `json:"creator"`
}

func (w wireChannel) info() types.ChannelInfo {
	return types.ChannelInfo{
		ID:      w.ID,
		Title:   w.Title,
		Type:    types.ChannelType(w.ChannelType),
		Status:  types.ChannelStatus(w.Status),
		Creator: w.Creator,
	}
}
