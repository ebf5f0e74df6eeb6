package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/bookshare/internal/metrics"
	"github.com/hitoshi/bookshare/internal/middleware"
)

// Service はAPIが必要とするドメイン操作の全体。*domain.Facadeが満たす。
type Service interface {
	UserService
	FriendService
	LendingService
	BookService
	TimelineService
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Service Service

	// ミドルウェア依存
	Tokens            *middleware.TokenAuthenticator
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	Logger            *slog.Logger

	// 運用
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Token → RateLimit(General)
//
// 登録・ログイン、/health、/metricsはトークン検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	userHandler := NewUserHandler(deps.Service, deps.Tokens)
	friendHandler := NewFriendHandler(deps.Service)
	lendingHandler := NewLendingHandler(deps.Service)
	bookHandler := NewBookHandler(deps.Service)
	timelineHandler := NewTimelineHandler(deps.Service)

	// --- 認証不要のルート ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Post("/v1/users", userHandler.Register)
	r.Post("/v1/sessions", userHandler.Login)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.Tokens.Middleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/v1/users/{user_id}", func(r chi.Router) {
			r.Get("/", userHandler.GetUser)
			r.Put("/", userHandler.UpdateProfile)
			r.Delete("/", userHandler.DeleteUser)

			r.Route("/friend", func(r chi.Router) {
				r.Get("/", friendHandler.ListFriends)
				r.Post("/", friendHandler.RequestFriend)
				r.Get("/requested", friendHandler.ListOutgoing)
				r.Delete("/{friend_id}", friendHandler.Unfriend)

				r.Get("/new", friendHandler.ListIncoming)
				r.Put("/new/{friend_id}", friendHandler.AcceptRequest)
				r.Delete("/new/{friend_id}", friendHandler.RejectRequest)
			})

			r.Route("/borrow", func(r chi.Router) {
				r.Get("/", lendingHandler.ListBorrows)
				r.Post("/", lendingHandler.Borrow)
				r.Delete("/{lender_id}/{book_id}", lendingHandler.Return)
			})

			r.Route("/bookshelf", func(r chi.Router) {
				r.Get("/", lendingHandler.ListShelf)
				r.Post("/", lendingHandler.AddToShelf)
				r.Delete("/{book_id}", lendingHandler.RemoveFromShelf)
			})

			r.Get("/timeline", timelineHandler.ListTimeline)
			r.Post("/timeline", timelineHandler.RecordEvent)
		})

		r.Route("/v1/books", func(r chi.Router) {
			r.Post("/", bookHandler.RegisterBook)
			// 外部サービスを呼び出すため専用のレート制限を追加
			r.With(deps.RateLimiter.CatalogMiddleware()).Get("/search", bookHandler.Search)
			r.Get("/{book_id}", bookHandler.GetBook)
		})
	})

	return r
}
