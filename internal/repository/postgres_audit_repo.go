package repository

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/bookshare/internal/model"
)

const dialectPostgres = "postgres"

// PostgresAuditRepo はPostgreSQLを使用した整合性監査リポジトリ。
// 参照のみを行い、データを変更しない。
type PostgresAuditRepo struct {
	db *sqlx.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sqlx.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// unpairedFriendEdgesQuery は逆向きの承認済みエッジを持たない承認済みエッジを検出するSQLを組み立てる。
func unpairedFriendEdgesQuery() (string, []any, error) {
	builder := goqu.Dialect(dialectPostgres)

	reverse := builder.
		From(goqu.T("friends").As("r")).
		Select(goqu.L("1")).
		Where(
			goqu.I("r.user_id").Eq(goqu.I("f.friend_id")),
			goqu.I("r.friend_id").Eq(goqu.I("f.user_id")),
			goqu.I("r.accepted").IsTrue(),
		)

	return builder.
		From(goqu.T("friends").As("f")).
		Select(goqu.I("f.user_id"), goqu.I("f.friend_id"), goqu.I("f.accepted"), goqu.I("f.created_at")).
		Where(
			goqu.I("f.accepted").IsTrue(),
			goqu.L("NOT EXISTS ?", reverse),
		).
		Order(goqu.I("f.user_id").Asc(), goqu.I("f.friend_id").Asc()).
		Prepared(true).
		ToSQL()
}

// unmatchedLentCopiesQuery は有効な貸出レコードのない貸出中の本を検出するSQLを組み立てる。
func unmatchedLentCopiesQuery() (string, []any, error) {
	builder := goqu.Dialect(dialectPostgres)

	active := builder.
		From(goqu.T("borrows").As("b")).
		Select(goqu.L("1")).
		Where(
			goqu.I("b.lender_id").Eq(goqu.I("s.user_id")),
			goqu.I("b.book_id").Eq(goqu.I("s.book_id")),
			goqu.I("b.user_id").Eq(goqu.I("s.borrower_id")),
			goqu.I("b.returned_at").IsNull(),
		)

	return builder.
		From(goqu.T("bookshelves").As("s")).
		Select(goqu.I("s.user_id"), goqu.I("s.book_id"), goqu.I("s.borrower_id"), goqu.I("s.created_at")).
		Where(
			goqu.I("s.borrower_id").Neq(model.NoBorrower),
			goqu.L("NOT EXISTS ?", active),
		).
		Order(goqu.I("s.user_id").Asc(), goqu.I("s.book_id").Asc()).
		Prepared(true).
		ToSQL()
}

// overfullTimelinesQuery はエントリ数がcapacityを超えるユーザーを検出するSQLを組み立てる。
func overfullTimelinesQuery(capacity int) (string, []any, error) {
	return goqu.Dialect(dialectPostgres).
		From("timelines").
		Select("user_id").
		GroupBy("user_id").
		Having(goqu.COUNT(goqu.Star()).Gt(capacity)).
		Order(goqu.I("user_id").Asc()).
		Prepared(true).
		ToSQL()
}

// FindUnpairedFriendEdges は逆向きの承認済みエッジを持たない承認済みエッジを返す。
func (r *PostgresAuditRepo) FindUnpairedFriendEdges(ctx context.Context) ([]model.Friend, error) {
	query, args, err := unpairedFriendEdgesQuery()
	if err != nil {
		return nil, fmt.Errorf("監査クエリの生成に失敗しました: %w", err)
	}

	var edges []model.Friend
	if err := r.db.SelectContext(ctx, &edges, query, args...); err != nil {
		return nil, fmt.Errorf("片方向の友達エッジの検出に失敗しました: %w", err)
	}
	return edges, nil
}

// FindUnmatchedLentCopies は貸出中なのに対応する有効な貸出レコードがない本を返す。
func (r *PostgresAuditRepo) FindUnmatchedLentCopies(ctx context.Context) ([]model.BookCopy, error) {
	query, args, err := unmatchedLentCopiesQuery()
	if err != nil {
		return nil, fmt.Errorf("監査クエリの生成に失敗しました: %w", err)
	}

	var copies []model.BookCopy
	if err := r.db.SelectContext(ctx, &copies, query, args...); err != nil {
		return nil, fmt.Errorf("貸出レコードのない貸出中の本の検出に失敗しました: %w", err)
	}
	return copies, nil
}

// FindOverfullTimelines はエントリ数がcapacityを超えているユーザーIDを返す。
func (r *PostgresAuditRepo) FindOverfullTimelines(ctx context.Context, capacity int) ([]int64, error) {
	query, args, err := overfullTimelinesQuery(capacity)
	if err != nil {
		return nil, fmt.Errorf("監査クエリの生成に失敗しました: %w", err)
	}

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("上限超過タイムラインの検出に失敗しました: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)
