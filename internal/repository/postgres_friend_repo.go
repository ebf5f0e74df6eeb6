package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/bookshare/internal/model"
)

// PostgresFriendRepo はPostgreSQLを使用した友達エッジリポジトリ。
type PostgresFriendRepo struct {
	db *sqlx.DB
}

// NewPostgresFriendRepo はPostgresFriendRepoを生成する。
func NewPostgresFriendRepo(db *sqlx.DB) *PostgresFriendRepo {
	return &PostgresFriendRepo{db: db}
}

// FindEdge は有向エッジ (userID → friendID) を取得する。見つからない場合はnilを返す。
func (r *PostgresFriendRepo) FindEdge(ctx context.Context, userID, friendID int64) (*model.Friend, error) {
	edge := &model.Friend{}
	err := r.db.GetContext(ctx, edge,
		`SELECT user_id, friend_id, accepted, created_at
		 FROM friends WHERE user_id = $1 AND friend_id = $2`,
		userID, friendID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("友達エッジの取得に失敗しました: %w", err)
	}
	return edge, nil
}

// CreateRequest は申請中エッジを作成する。同じ有向ペアが既に存在する場合はfalseを返す。
func (r *PostgresFriendRepo) CreateRequest(ctx context.Context, requesterID, targetID int64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id, accepted, created_at)
		 VALUES ($1, $2, false, $3)
		 ON CONFLICT (user_id, friend_id) DO NOTHING`,
		requesterID, targetID, at,
	)
	if isForeignKeyViolation(err) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("友達申請の作成に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("作成結果の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// Accept は申請中エッジを承認済みにし、逆向きの承認済みエッジを同一トランザクションで作成する。
func (r *PostgresFriendRepo) Accept(ctx context.Context, requesterID, accepterID int64, at time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 申請中エッジを承認済みに更新（行ロックにより同時承認・同時拒否と直列化される）
	result, err := tx.ExecContext(ctx,
		`UPDATE friends SET accepted = true
		 WHERE user_id = $1 AND friend_id = $2 AND accepted = false`,
		requesterID, accepterID,
	)
	if err != nil {
		return false, fmt.Errorf("友達申請の承認に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	// 逆向きエッジを承認済みで作成（相互に申請していた場合は承認済みに更新）
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id, accepted, created_at)
		 VALUES ($1, $2, true, $3)
		 ON CONFLICT (user_id, friend_id) DO UPDATE SET accepted = true`,
		accepterID, requesterID, at,
	); err != nil {
		return false, fmt.Errorf("逆向きエッジの作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// DeletePending は申請中エッジを削除する。存在しない場合はfalseを返す。
func (r *PostgresFriendRepo) DeletePending(ctx context.Context, requesterID, accepterID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM friends WHERE user_id = $1 AND friend_id = $2 AND accepted = false`,
		requesterID, accepterID,
	)
	if err != nil {
		return false, fmt.Errorf("友達申請の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// DeleteMutual は承認済みエッジを両方向とも削除する。
// 2本削除できなかった場合はロールバックし、削除できた本数を返す。
func (r *PostgresFriendRepo) DeleteMutual(ctx context.Context, userID, friendID int64) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM friends
		 WHERE accepted = true
		   AND ((user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1))`,
		userID, friendID,
	)
	if err != nil {
		return 0, fmt.Errorf("友達の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if n != 2 {
		return int(n), nil
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return 2, nil
}

// ListFriendIDs は承認済みの友達IDを昇順で返す。
func (r *PostgresFriendRepo) ListFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.selectIDs(ctx,
		`SELECT friend_id FROM friends WHERE user_id = $1 AND accepted = true ORDER BY friend_id`,
		userID,
	)
}

// ListRequesterIDs はuserIDに申請中のユーザーIDを昇順で返す。
func (r *PostgresFriendRepo) ListRequesterIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.selectIDs(ctx,
		`SELECT user_id FROM friends WHERE friend_id = $1 AND accepted = false ORDER BY user_id`,
		userID,
	)
}

// ListRequestedIDs はuserIDが申請中の相手のIDを昇順で返す。
func (r *PostgresFriendRepo) ListRequestedIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.selectIDs(ctx,
		`SELECT friend_id FROM friends WHERE user_id = $1 AND accepted = false ORDER BY friend_id`,
		userID,
	)
}

func (r *PostgresFriendRepo) selectIDs(ctx context.Context, query string, userID int64) ([]int64, error) {
	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("友達一覧の取得に失敗しました: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ FriendRepository = (*PostgresFriendRepo)(nil)
