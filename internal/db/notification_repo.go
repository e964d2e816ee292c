package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"hookrouter/internal/types"
)

var _ types.StatusTracker = (*NotificationRepository)(nil)

// NotificationRepository records NotificationMessage snapshots in the
// notification_messages table. Each Track call upserts the whole message so
// the row always holds the latest status.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a NotificationRepository backed by the
// given connection.
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Track upserts msg keyed by its ID.
func (r *NotificationRepository) Track(ctx context.Context, msg *types.NotificationMessage) error {
	if msg == nil || msg.ID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "message id is required", nil)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_messages
		 (id, webhook_id, priority, state, channels, content, metadata, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		msg.ID,
		msg.EventID,
		string(msg.Priority),
		string(msg.Status.State),
		types.ChannelList(msg.Channels),
		msg.Content,
		metadataOrEmpty(msg.Metadata),
		msg.Status,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to track notification", err)
	}
	return nil
}

// Get loads the latest snapshot of a message.
func (r *NotificationRepository) Get(ctx context.Context, id string) (*types.NotificationMessage, error) {
	var (
		msg      types.NotificationMessage
		priority string
		channels types.ChannelList
		metadata []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, webhook_id, priority, channels, content, metadata, status, created_at, updated_at
		 FROM notification_messages WHERE id = $1`,
		id,
	).Scan(
		&msg.ID,
		&msg.EventID,
		&priority,
		&channels,
		&msg.Content,
		&metadata,
		&msg.Status,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, fmt.Sprintf("notification %q not found", id), nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification", err)
	}

	msg.Priority = types.PriorityLevel(priority)
	msg.Channels = channels
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode notification metadata", err)
		}
	}
	return &msg, nil
}

// ListByEvent returns every message produced for one webhook event, oldest
// first.
func (r *NotificationRepository) ListByEvent(ctx context.Context, eventID string) ([]*types.NotificationMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM notification_messages WHERE webhook_id = $1 ORDER BY created_at, id`,
		eventID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification rows", err)
	}

	out := make([]*types.NotificationMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// DeleteTerminalBefore removes delivered and failed messages last updated
// before cutoff and reports how many were removed.
func (r *NotificationRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_messages
		 WHERE state IN ('delivered', 'failed') AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete notifications", err)
	}
	return tag.RowsAffected(), nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
