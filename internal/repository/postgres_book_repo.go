package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/bookshare/internal/model"
)

// PostgresBookRepo はPostgreSQLを使用した書誌情報リポジトリ。
type PostgresBookRepo struct {
	db *sqlx.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sqlx.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id int64) (*model.Book, error) {
	book := &model.Book{}
	err := r.db.GetContext(ctx, book,
		`SELECT book_id, title, author, isbn, manufacturer, created_at FROM books WHERE book_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	return book, nil
}

// FindByISBN はISBNで書籍を検索する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByISBN(ctx context.Context, isbn string) (*model.Book, error) {
	book := &model.Book{}
	err := r.db.GetContext(ctx, book,
		`SELECT book_id, title, author, isbn, manufacturer, created_at FROM books WHERE isbn = $1`, isbn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ISBNによる書籍の検索に失敗しました: %w", err)
	}
	return book, nil
}

// Create は書籍を作成し、採番したbook_idをbook.IDに設定する。
// ISBNが重複する場合はErrDuplicateを返す。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO books (title, author, isbn, manufacturer, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING book_id`,
		book.Title, book.Author, book.ISBN, book.Manufacturer, book.CreatedAt,
	).Scan(&book.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("書籍の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
