package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

// MessageCount returns the number of messages in a channel.
func (l *Ledger) MessageCount(ctx context.Context, channelID string) (uint64, error) {
	row := l.db.QueryRowContext(ctx, "SELECT message_count FROM ledger_channels WHERE id = ?", normalizeID(channelID))
	var count int64
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrChannelNotFound
		}
		return 0, err
	}
	return uint64(count), nil
}

// MessagePage returns the object ids of messages with index in
// [offset, offset+size), oldest first.
func (l *Ledger) MessagePage(ctx context.Context, channelID string, offset, size uint64) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT object_id FROM ledger_messages
		WHERE channel_id = ? AND idx >= ? AND idx < ?
		ORDER BY idx ASC
	`, normalizeID(channelID), int64(offset), int64(offset+size))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MessageObjects resolves message object ids. Unknown ids are skipped and
// results come back in no particular order.
func (l *Ledger) MessageObjects(ctx context.Context, ids []string) ([]types.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT object_id, channel_id, idx, sender, content, ts, message_type, mentions, reply_to, attachments
		FROM ledger_messages WHERE object_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]types.Message, 0, len(ids))
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(&row.ObjectID, &row.ChannelID, &row.Index, &row.Sender, &row.Content, &row.Timestamp,
			&row.Type, &row.Mentions, &row.ReplyTo, &row.Attachments); err != nil {
			return nil, err
		}
		msg, err := row.toMessage()
		if err != nil {
			l.logger.Warn().Err(err).Str("id", row.ObjectID).Msg("skipping corrupt message row")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RecentMessages returns up to limit messages with index greater than after,
// oldest first.
func (l *Ledger) RecentMessages(ctx context.Context, channelID string, after int64, limit int) ([]types.Message, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT object_id, channel_id, idx, sender, content, ts, message_type, mentions, reply_to, attachments
		FROM ledger_messages WHERE channel_id = ? AND idx > ?
		ORDER BY idx ASC LIMIT ?
	`, normalizeID(channelID), after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(&row.ObjectID, &row.ChannelID, &row.Index, &row.Sender, &row.Content, &row.Timestamp,
			&row.Type, &row.Mentions, &row.ReplyTo, &row.Attachments); err != nil {
			return nil, err
		}
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SendMessage appends a message at the channel's next index.
func (l *Ledger) SendMessage(ctx context.Context, req types.SendRequest) (types.Receipt, error) {
	return l.AppendMessage(ctx, req, types.MessageTypeNormal)
}

// AppendMessage appends a message of the given type. Only members may post,
// and only to active channels.
func (l *Ledger) AppendMessage(ctx context.Context, req types.SendRequest, messageType types.MessageType) (types.Receipt, error) {
	return l.appendInTx(ctx, req, messageType, nil)
}

// AppendReply posts a responder's reply and advances its watermark to
// handled in the same transaction, so a crash cannot leave one without the
// other.
func (l *Ledger) AppendReply(ctx context.Context, req types.SendRequest, handled int64) (types.Receipt, error) {
	return l.appendInTx(ctx, req, types.MessageTypeNormal, func(tx *sql.Tx) error {
		return setWatermark(ctx, tx, req.Sender, req.ChannelID, handled)
	})
}

func (l *Ledger) appendInTx(ctx context.Context, req types.SendRequest, messageType types.MessageType, also func(*sql.Tx) error) (types.Receipt, error) {
	channelID := normalizeID(req.ChannelID)
	sender := core.NormalizeAddress(req.Sender)
	if sender == "" {
		return types.Receipt{}, fmt.Errorf("sender is required")
	}
	mentions := make([]string, 0, len(req.Mentions))
	for _, mention := range req.Mentions {
		mentions = append(mentions, core.NormalizeAddress(mention))
	}
	mentionsJSON, err := json.Marshal(mentions)
	if err != nil {
		return types.Receipt{}, err
	}
	replyTo := req.ReplyTo
	if replyTo < types.NoReply {
		replyTo = types.NoReply
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Receipt{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, "SELECT status, message_count FROM ledger_channels WHERE id = ?", channelID)
	var (
		status int
		count  int64
	)
	if err := row.Scan(&status, &count); err != nil {
		if err == sql.ErrNoRows {
			return types.Receipt{}, ErrChannelNotFound
		}
		return types.Receipt{}, err
	}
	if types.ChannelStatus(status) != types.ChannelStatusActive {
		return types.Receipt{}, fmt.Errorf("%w: %s", ErrChannelClosed, types.ChannelStatus(status))
	}
	member, err := isMember(ctx, tx, channelID, sender)
	if err != nil {
		return types.Receipt{}, err
	}
	if !member {
		return types.Receipt{}, ErrNotMember
	}

	txHash := newTxHash()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_messages (object_id, channel_id, idx, sender, content, ts, message_type, mentions, reply_to, attachments, tx_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', ?)
	`, l.newObjectID(), channelID, count, sender, req.Content, l.now().UnixMilli(), int(messageType), string(mentionsJSON), replyTo, txHash)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE ledger_channels SET message_count = message_count + 1 WHERE id = ?", channelID); err != nil {
		return types.Receipt{}, err
	}
	if also != nil {
		if err := also(tx); err != nil {
			return types.Receipt{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return types.Receipt{}, err
	}

	index := uint64(count)
	l.logger.Debug().Str("channel", channelID).Uint64("index", index).Str("sender", sender).Msg("appended message")
	return types.Receipt{TxHash: txHash, Index: &index}, nil
}

// Watermark returns the last index a responder handled in a channel. ok is
// false when the responder has never seen the channel.
func (l *Ledger) Watermark(ctx context.Context, responder, channelID string) (int64, bool, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT last_index FROM ledger_watermarks WHERE responder = ? AND channel_id = ?
	`, core.NormalizeAddress(responder), normalizeID(channelID))
	var last int64
	if err := row.Scan(&last); err != nil {
		if err == sql.ErrNoRows {
			return -1, false, nil
		}
		return 0, false, err
	}
	return last, true, nil
}

// SetWatermark records the last index a responder handled in a channel.
func (l *Ledger) SetWatermark(ctx context.Context, responder, channelID string, index int64) error {
	return setWatermark(ctx, l.db, responder, channelID, index)
}

func setWatermark(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, responder, channelID string, index int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_watermarks (responder, channel_id, last_index) VALUES (?, ?, ?)
		ON CONFLICT (responder, channel_id) DO UPDATE SET last_index = excluded.last_index
	`, core.NormalizeAddress(responder), normalizeID(channelID), index)
	return err
}

type messageRow struct {
	ObjectID    string
	ChannelID   string
	Index       int64
	Sender      string
	Content     string
	Timestamp   int64
	Type        int
	Mentions    string
	ReplyTo     int64
	Attachments string
}

func (row messageRow) toMessage() (types.Message, error) {
	msg := types.Message{
		Index:     uint64(row.Index),
		ChannelID: row.ChannelID,
		Sender:    row.Sender,
		Content:   row.Content,
		Timestamp: uint64(row.Timestamp),
		Type:      types.MessageType(row.Type),
		ReplyTo:   row.ReplyTo,
	}
	if row.Mentions != "" {
		if err := json.Unmarshal([]byte(row.Mentions), &msg.Mentions); err != nil {
			return types.Message{}, fmt.Errorf("decode mentions: %w", err)
		}
	}
	if row.Attachments != "" && row.Attachments != "[]" {
		if err := json.Unmarshal([]byte(row.Attachments), &msg.Attachments); err != nil {
			return types.Message{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return msg, nil
}

func newTxHash() string {
	a, b := uuid.New(), uuid.New()
	return "0x" + strings.ReplaceAll(a.String()+b.String(), "-", "")
}
