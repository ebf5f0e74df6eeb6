package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/bookshare/internal/model"
)

// PostgresTimelineRepo はPostgreSQLを使用したタイムラインリポジトリ。
type PostgresTimelineRepo struct {
	db *sqlx.DB
}

// NewPostgresTimelineRepo はPostgresTimelineRepoを生成する。
func NewPostgresTimelineRepo(db *sqlx.DB) *PostgresTimelineRepo {
	return &PostgresTimelineRepo{db: db}
}

// timelineRow はJSONBカラムを[]byteで受けるための行構造体。
type timelineRow struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Type      string    `db:"type"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
}

func (row timelineRow) toModel() *model.TimelineEntry {
	return &model.TimelineEntry{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      model.TimelineType(row.Type),
		Data:      json.RawMessage(row.Data),
		CreatedAt: row.CreatedAt,
	}
}

// Append はユーザー単位のアドバイザリロックを取得したトランザクション内で、
// 新しい順にcapacity-1件を残して古いエントリを削除し、entryを挿入する。
// 同一ユーザーへの同時Appendはロックで直列化されるため、件数はcapacityを超えない。
func (r *PostgresTimelineRepo) Append(ctx context.Context, entry *model.TimelineEntry, capacity int) (int, error) {
	if capacity <= 0 {
		return 0, fmt.Errorf("capacity must be positive: %d", capacity)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('bookshare.timeline:' || $1::text, 0))`,
		entry.UserID,
	); err != nil {
		return 0, fmt.Errorf("タイムラインのロック取得に失敗しました: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM timelines WHERE id IN (
			SELECT id FROM timelines
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			OFFSET $2
		 )`,
		entry.UserID, capacity-1,
	)
	if err != nil {
		return 0, fmt.Errorf("古いタイムラインの削除に失敗しました: %w", err)
	}
	evicted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}

	data := []byte(entry.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO timelines (user_id, type, data, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		entry.UserID, string(entry.Type), data, entry.CreatedAt,
	).Scan(&entry.ID)
	if isForeignKeyViolation(err) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("タイムラインの追加に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(evicted), nil
}

// ListByUser はユーザーのエントリを新しい順に返す。
func (r *PostgresTimelineRepo) ListByUser(ctx context.Context, userID int64) ([]*model.TimelineEntry, error) {
	var rows []timelineRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, type, data, created_at
		 FROM timelines WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("タイムラインの取得に失敗しました: %w", err)
	}

	entries := make([]*model.TimelineEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.toModel()
	}
	return entries, nil
}

// CountByUser はユーザーのエントリ数を返す。
func (r *PostgresTimelineRepo) CountByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM timelines WHERE user_id = $1`, userID,
	); err != nil {
		return 0, fmt.Errorf("タイムライン件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ TimelineRepository = (*PostgresTimelineRepo)(nil)
