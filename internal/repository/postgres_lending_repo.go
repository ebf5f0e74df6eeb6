package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/bookshare/internal/model"
)

const borrowColumns = `id, user_id, book_id, lender_id, due_date, borrowed_at, returned_at`

// PostgresLendingRepo はPostgreSQLを使用した本棚・貸出台帳リポジトリ。
// bookshelvesとborrowsは常に同じトランザクションで更新する。
type PostgresLendingRepo struct {
	db *sqlx.DB
}

// NewPostgresLendingRepo はPostgresLendingRepoを生成する。
func NewPostgresLendingRepo(db *sqlx.DB) *PostgresLendingRepo {
	return &PostgresLendingRepo{db: db}
}

// FindCopy は (lenderID, bookID) の本を取得する。見つからない場合はnilを返す。
func (r *PostgresLendingRepo) FindCopy(ctx context.Context, lenderID, bookID int64) (*model.BookCopy, error) {
	c := &model.BookCopy{}
	err := r.db.GetContext(ctx, c,
		`SELECT user_id, book_id, borrower_id, created_at
		 FROM bookshelves WHERE user_id = $1 AND book_id = $2`,
		lenderID, bookID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("本棚の本の取得に失敗しました: %w", err)
	}
	return c, nil
}

// AddCopy は本棚に本を追加する。既に存在する場合はfalseを返す。
func (r *PostgresLendingRepo) AddCopy(ctx context.Context, lenderID, bookID int64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO bookshelves (user_id, book_id, borrower_id, created_at)
		 VALUES ($1, $2, 0, $3)
		 ON CONFLICT (user_id, book_id) DO NOTHING`,
		lenderID, bookID, at,
	)
	if isForeignKeyViolation(err) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("本棚への追加に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("追加結果の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// RemoveCopy は貸出中でない本を本棚から削除する。
func (r *PostgresLendingRepo) RemoveCopy(ctx context.Context, lenderID, bookID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bookshelves WHERE user_id = $1 AND book_id = $2 AND borrower_id = 0`,
		lenderID, bookID,
	)
	if err != nil {
		return false, fmt.Errorf("本棚からの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// ListByLender は貸し手の本棚の一覧をbook_id昇順で返す。
func (r *PostgresLendingRepo) ListByLender(ctx context.Context, lenderID int64) ([]*model.BookCopy, error) {
	copies := []*model.BookCopy{}
	err := r.db.SelectContext(ctx, &copies,
		`SELECT user_id, book_id, borrower_id, created_at
		 FROM bookshelves WHERE user_id = $1 ORDER BY book_id`,
		lenderID,
	)
	if err != nil {
		return nil, fmt.Errorf("本棚一覧の取得に失敗しました: %w", err)
	}
	return copies, nil
}

// FindActiveByBorrower は借り手がbookIDを借りている有効な貸出を返す。
func (r *PostgresLendingRepo) FindActiveByBorrower(ctx context.Context, borrowerID, bookID int64) (*model.Borrow, error) {
	return r.getBorrow(ctx,
		`SELECT `+borrowColumns+` FROM borrows
		 WHERE user_id = $1 AND book_id = $2 AND returned_at IS NULL`,
		borrowerID, bookID,
	)
}

// FindActiveByCopy は本 (lenderID, bookID) に対する有効な貸出を返す。
func (r *PostgresLendingRepo) FindActiveByCopy(ctx context.Context, lenderID, bookID int64) (*model.Borrow, error) {
	return r.getBorrow(ctx,
		`SELECT `+borrowColumns+` FROM borrows
		 WHERE lender_id = $1 AND book_id = $2 AND returned_at IS NULL`,
		lenderID, bookID,
	)
}

func (r *PostgresLendingRepo) getBorrow(ctx context.Context, query string, args ...any) (*model.Borrow, error) {
	b := &model.Borrow{}
	err := r.db.GetContext(ctx, b, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	return b, nil
}

// ListActiveByUser は借り手の有効な貸出を借りた順に返す。
func (r *PostgresLendingRepo) ListActiveByUser(ctx context.Context, userID int64) ([]*model.Borrow, error) {
	borrows := []*model.Borrow{}
	err := r.db.SelectContext(ctx, &borrows,
		`SELECT `+borrowColumns+` FROM borrows
		 WHERE user_id = $1 AND returned_at IS NULL
		 ORDER BY borrowed_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}
	return borrows, nil
}

// ListByUser は借り手の返却済みを含む全貸出を借りた順に返す。
func (r *PostgresLendingRepo) ListByUser(ctx context.Context, userID int64) ([]*model.Borrow, error) {
	borrows := []*model.Borrow{}
	err := r.db.SelectContext(ctx, &borrows,
		`SELECT `+borrowColumns+` FROM borrows WHERE user_id = $1 ORDER BY borrowed_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("貸出履歴の取得に失敗しました: %w", err)
	}
	return borrows, nil
}

// Lend は本が貸出可能な場合に限り、貸出レコードの作成・borrower_idの設定・
// 貸出数カウンタの加算を1トランザクションで行う。
// borrower_id = 0 を条件とするUPDATEの行ロックにより、同じ本への同時貸出は直列化され、
// 後続のトランザクションは0件更新となる。
// 借り手と貸し手のユーザー行はuser_id昇順でロックし、退会処理のFOR UPDATEと直列化する。
func (r *PostgresLendingRepo) Lend(ctx context.Context, borrow *model.Borrow) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked []int64
	if err := tx.SelectContext(ctx, &locked,
		`SELECT user_id FROM users WHERE user_id IN ($1, $2)
		 ORDER BY user_id FOR NO KEY UPDATE`,
		borrow.UserID, borrow.LenderID,
	); err != nil {
		return false, fmt.Errorf("failed to lock users: %w", err)
	}
	if !slices.Contains(locked, borrow.UserID) {
		return false, ErrUserNotFound
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE bookshelves SET borrower_id = $1
		 WHERE user_id = $2 AND book_id = $3 AND borrower_id = 0`,
		borrow.UserID, borrow.LenderID, borrow.BookID,
	)
	if err != nil {
		return false, fmt.Errorf("本棚の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	err = tx.QueryRowxContext(ctx,
		`INSERT INTO borrows (user_id, book_id, lender_id, due_date, borrowed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		borrow.UserID, borrow.BookID, borrow.LenderID, borrow.DueDate, borrow.BorrowedAt,
	).Scan(&borrow.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, fmt.Errorf("貸出レコードの作成に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET
			borrow_num = borrow_num + CASE WHEN user_id = $1 THEN 1 ELSE 0 END,
			lend_num   = lend_num   + CASE WHEN user_id = $2 THEN 1 ELSE 0 END
		 WHERE user_id IN ($1, $2)`,
		borrow.UserID, borrow.LenderID,
	); err != nil {
		return false, fmt.Errorf("貸出数の更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// Release は本のborrower_idがborrowerIDの場合に限り、有効な貸出を返却済みにして
// borrower_idを0に戻す。本棚は借り手が一致するのに有効な貸出レコードがない場合は
// ロールバックしてErrInconsistentを返す。
func (r *PostgresLendingRepo) Release(ctx context.Context, borrowerID, lenderID, bookID int64, at time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE bookshelves SET borrower_id = 0
		 WHERE user_id = $1 AND book_id = $2 AND borrower_id = $3`,
		lenderID, bookID, borrowerID,
	)
	if err != nil {
		return false, fmt.Errorf("本棚の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE borrows SET returned_at = $4
		 WHERE user_id = $1 AND lender_id = $2 AND book_id = $3 AND returned_at IS NULL`,
		borrowerID, lenderID, bookID, at,
	)
	if err != nil {
		return false, fmt.Errorf("貸出レコードの返却処理に失敗しました: %w", err)
	}
	n, err = result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if n != 1 {
		return false, ErrInconsistent
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// compile-time interface check
var (
	_ BookshelfRepository = (*PostgresLendingRepo)(nil)
	_ BorrowRepository    = (*PostgresLendingRepo)(nil)
	_ LedgerRepository    = (*PostgresLendingRepo)(nil)
)
