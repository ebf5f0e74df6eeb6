// Package domain はユーザー向けの操作を友達・貸出・タイムラインの各サービスを
// 組み合わせて提供する。
//
// 各操作は状態変更を先に行い、成功した場合にのみタイムラインへ記録する。
// 状態変更はコミット済みのため、タイムライン記録の失敗はログとメトリクスに残して
// 操作自体は成功として返す。
package domain

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/hitoshi/bookshare/internal/friend"
	"github.com/hitoshi/bookshare/internal/keylock"
	"github.com/hitoshi/bookshare/internal/lending"
	"github.com/hitoshi/bookshare/internal/metrics"
	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
	"github.com/hitoshi/bookshare/internal/security"
	"github.com/hitoshi/bookshare/internal/timeline"
	"github.com/hitoshi/bookshare/internal/user"
)

type (
	// RegisterRequest はユーザー登録リクエスト。
	RegisterRequest = user.RegisterRequest
	// UpdateProfileRequest はプロフィール更新リクエスト。
	UpdateProfileRequest = user.UpdateProfileRequest
	// BorrowRequest は貸出リクエスト。
	BorrowRequest = lending.BorrowRequest
)

// CatalogSearcher は外部の書籍カタログ検索を表す。
type CatalogSearcher interface {
	Search(ctx context.Context, title string) iter.Seq2[model.CatalogBook, error]
}

// Repositories はFacadeが利用するリポジトリの集合。
type Repositories struct {
	Users     repository.UserRepository
	Friends   repository.FriendRepository
	Books     repository.BookRepository
	Shelves   repository.BookshelfRepository
	Borrows   repository.BorrowRepository
	Ledger    repository.LedgerRepository
	Timelines repository.TimelineRepository
}

// Options はFacadeの任意設定。
type Options struct {
	Catalog         CatalogSearcher
	Metrics         metrics.MetricsCollector
	Logger          *slog.Logger
	Hasher          user.PasswordHasher
	TimelineOptions []timeline.Option
}

// Facade はAPIレイヤーから呼び出されるドメイン操作の入口。
type Facade struct {
	users     *user.Service
	friends   *friend.Service
	lending   *lending.Service
	timeline  *timeline.Recorder
	catalog   CatalogSearcher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	sanitizer *security.TextSanitizer
}

// New はFacadeを生成する。各サービスは同じkeylock.Lockerを共有する。
func New(repos Repositories, opts Options) *Facade {
	locks := keylock.New()
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Facade{
		users:     user.NewService(repos.Users, opts.Hasher),
		friends:   friend.NewService(repos.Users, repos.Friends, locks),
		lending:   lending.NewService(repos.Books, repos.Shelves, repos.Borrows, repos.Ledger, locks),
		timeline:  timeline.NewRecorder(repos.Timelines, locks, opts.TimelineOptions...),
		catalog:   opts.Catalog,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		sanitizer: security.NewTextSanitizer(),
	}
}

// observe は操作の結果をメトリクスに記録し、不変条件違反はエラーログに残す。
func (f *Facade) observe(op string, start time.Time, err error) {
	f.metrics.RecordOperation(op, err, time.Since(start))
	if model.IsKind(err, model.KindConsistency) {
		f.metrics.RecordConsistencyViolation(op)
		f.logger.Error("不変条件違反を検出しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}

// requireActor は操作ユーザーが存在することを確認する。
// 退会後もトークンは有効期限まで検証を通るため、書き込みの前に呼び出す。
func (f *Facade) requireActor(ctx context.Context, actorID int64) error {
	_, err := f.users.Get(ctx, actorID)
	return err
}

// record は状態変更が成功した後のタイムライン記録を行う。
// 失敗しても呼び出し元の操作は成功として扱う。
func (f *Facade) record(ctx context.Context, userID int64, typ model.TimelineType, data any) {
	if _, err := f.timeline.Record(ctx, userID, typ, data); err != nil {
		f.metrics.RecordTimelineWriteFailure(typ)
		f.logger.Error("タイムラインの記録に失敗しました",
			slog.Int64("user_id", userID),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
