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

const userColumns = `user_id, email, password_hash, firstname, lastname, school,
	lend_num, borrow_num, invitation_code, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sqlx.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sqlx.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成し、採番したuser_idをuser.IDに設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	rows, err := r.db.NamedQueryContext(ctx,
		`INSERT INTO users (email, password_hash, firstname, lastname, school,
			lend_num, borrow_num, invitation_code, created_at, updated_at)
		 VALUES (:email, :password_hash, :firstname, :lastname, :school,
			:lend_num, :borrow_num, :invitation_code, :created_at, :updated_at)
		 RETURNING user_id`,
		user,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read inserted user ID: %w", err)
		}
		return fmt.Errorf("failed to read inserted user ID: no rows returned")
	}
	if err := rows.Scan(&user.ID); err != nil {
		return fmt.Errorf("failed to scan inserted user ID: %w", err)
	}
	return nil
}

// UpdateProfile はプロフィールを部分更新する。nilフィールドは変更しない。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id int64, update model.ProfileUpdate) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user,
		`UPDATE users SET
			email      = COALESCE($2, email),
			firstname  = COALESCE($3, firstname),
			lastname   = COALESCE($4, lastname),
			school     = COALESCE($5, school),
			updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+userColumns,
		id, update.Email, update.FirstName, update.LastName, update.School,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	return user, nil
}

// DeleteCascade はユーザーと依存するデータを同一トランザクションで削除する。
// 削除順序: 友達エッジ → 借りている貸出の返却 → 貸している貸出の返却 → 借り手としての履歴
// → 本棚 → タイムライン → ユーザー
func (r *PostgresUserRepo) DeleteCascade(ctx context.Context, id int64, at time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザー行をロックして同時削除・同時登録と直列化する
	var exists int64
	err = tx.GetContext(ctx, &exists, `SELECT user_id FROM users WHERE user_id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock user: %w", err)
	}

	steps := []struct {
		name  string
		query string
		args  []any
	}{
		{"friends", `DELETE FROM friends WHERE user_id = $1 OR friend_id = $1`, []any{id}},
		{"borrowed copies", `UPDATE bookshelves SET borrower_id = 0 WHERE borrower_id = $1`, []any{id}},
		{"lent borrows", `UPDATE borrows SET returned_at = $2 WHERE lender_id = $1 AND returned_at IS NULL`, []any{id, at}},
		{"own borrows", `DELETE FROM borrows WHERE user_id = $1`, []any{id}},
		{"bookshelves", `DELETE FROM bookshelves WHERE user_id = $1`, []any{id}},
		{"timelines", `DELETE FROM timelines WHERE user_id = $1`, []any{id}},
		{"user", `DELETE FROM users WHERE user_id = $1`, []any{id}},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", step.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
