package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"

	"github.com/adamavenir/ledgerchat/internal/core"
	"github.com/adamavenir/ledgerchat/internal/types"
)

const (
	sqliteConstraint           = 19
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

var (
	// ErrChannelNotFound is returned for an unknown channel id.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelClosed is returned when posting to a closed or banned channel.
	ErrChannelClosed = errors.New("channel is closed")
	// ErrNotMember is returned when a non-member posts to a channel.
	ErrNotMember = errors.New("sender is not a channel member")
)

// ChannelInput describes a channel to create.
type ChannelInput struct {
	Title   string
	Type    types.ChannelType
	Creator string
	Members []string
}

// CreateChannel creates a channel. The creator always becomes a member.
func (l *Ledger) CreateChannel(ctx context.Context, input ChannelInput) (types.ChannelInfo, error) {
	creator := core.NormalizeAddress(input.Creator)
	if creator == "" {
		return types.ChannelInfo{}, fmt.Errorf("channel creator is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return types.ChannelInfo{}, fmt.Errorf("channel title is required")
	}
	id, err := newChannelID()
	if err != nil {
		return types.ChannelInfo{}, err
	}
	now := l.now().UnixMilli()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return types.ChannelInfo{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO ledger_channels (id, title, channel_type, status, creator, message_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, id, title, int(input.Type), int(types.ChannelStatusActive), creator, now)
	if err != nil {
		return types.ChannelInfo{}, fmt.Errorf("create channel: %w", err)
	}
	for _, member := range append([]string{creator}, input.Members...) {
		if err := addMember(tx, id, member, now); err != nil {
			return types.ChannelInfo{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return types.ChannelInfo{}, err
	}

	l.logger.Debug().Str("channel", id).Str("type", input.Type.String()).Msg("created channel")
	return types.ChannelInfo{
		ID:      id,
		Title:   title,
		Type:    input.Type,
		Status:  types.ChannelStatusActive,
		Creator: creator,
	}, nil
}

// AddMember adds address to a channel. Adding an existing member is a no-op.
func (l *Ledger) AddMember(ctx context.Context, channelID, address string) error {
	if _, err := l.ChannelInfo(ctx, channelID); err != nil {
		return err
	}
	return addMember(l.db, normalizeID(channelID), address, l.now().UnixMilli())
}

func addMember(db DBTX, channelID, address string, now int64) error {
	normalized := core.NormalizeAddress(address)
	if normalized == "" {
		return nil
	}
	_, err := db.Exec(`
		INSERT INTO ledger_channel_members (channel_id, address, joined_at) VALUES (?, ?, ?)
	`, channelID, normalized, now)
	if err != nil && !isConstraintError(err) {
		return fmt.Errorf("add member %s: %w", address, err)
	}
	return nil
}

// SetChannelStatus changes a channel's lifecycle status.
func (l *Ledger) SetChannelStatus(ctx context.Context, channelID string, status types.ChannelStatus) error {
	result, err := l.db.ExecContext(ctx, "UPDATE ledger_channels SET status = ? WHERE id = ?", int(status), normalizeID(channelID))
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// ChannelInfo returns a channel's metadata.
func (l *Ledger) ChannelInfo(ctx context.Context, channelID string) (types.ChannelInfo, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, title, channel_type, status, creator FROM ledger_channels WHERE id = ?
	`, normalizeID(channelID))
	info, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return types.ChannelInfo{}, ErrChannelNotFound
	}
	return info, err
}

// ListChannels returns all channels, newest first.
func (l *Ledger) ListChannels(ctx context.Context) ([]types.ChannelSnapshot, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, title, channel_type, status, creator, message_count
		FROM ledger_channels ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []types.ChannelSnapshot
	for rows.Next() {
		var (
			snapshot     types.ChannelSnapshot
			channelType  int
			status       int
			messageCount int64
		)
		if err := rows.Scan(&snapshot.ID, &snapshot.Title, &channelType, &status, &snapshot.Creator, &messageCount); err != nil {
			return nil, err
		}
		snapshot.Type = types.ChannelType(channelType)
		snapshot.Status = types.ChannelStatus(status)
		snapshot.TotalMessageCount = uint64(messageCount)
		channels = append(channels, snapshot)
	}
	return channels, rows.Err()
}

// IsMember reports whether address belongs to the channel.
func (l *Ledger) IsMember(ctx context.Context, channelID, address string) (bool, error) {
	return isMember(ctx, l.db, normalizeID(channelID), address)
}

func isMember(ctx context.Context, db interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, channelID, address string) (bool, error) {
	row := db.QueryRowContext(ctx, `
		SELECT 1 FROM ledger_channel_members WHERE channel_id = ? AND address = ?
	`, channelID, core.NormalizeAddress(address))
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func scanChannel(row *sql.Row) (types.ChannelInfo, error) {
	var (
		info        types.ChannelInfo
		channelType int
		status      int
	)
	if err := row.Scan(&info.ID, &info.Title, &channelType, &status, &info.Creator); err != nil {
		return types.ChannelInfo{}, err
	}
	info.Type = types.ChannelType(channelType)
	info.Status = types.ChannelStatus(status)
	return info, nil
}

func newChannelID() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf[:]), nil
}

func normalizeID(channelID string) string {
	return core.NormalizeAddress(channelID)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraint || code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
	}
	return false
}
