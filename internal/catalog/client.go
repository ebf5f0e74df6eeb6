// Package catalog は外部の書籍カタログ（国立国会図書館サーチ OpenSearch）を検索する。
//
// 検索結果はページ単位で遅延取得する有限のシーケンスとして返す。
// 呼び出し側が反復を止めた時点で以降のページは取得しない。
package catalog

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"

	"github.com/hitoshi/bookshare/internal/model"
)

const (
	// DefaultEndpoint は国立国会図書館サーチのOpenSearchエンドポイント。
	DefaultEndpoint = "https://ndlsearch.ndl.go.jp/api/opensearch"
	// DefaultPageSize は1リクエストあたりの取得件数。
	DefaultPageSize = 20
	// DefaultMaxResults は1回の検索で返す最大件数。
	DefaultMaxResults = 100
	// maxBodySize はレスポンスボディの最大サイズ（5MB）。
	maxBodySize = 5 * 1024 * 1024
	userAgent   = "bookshare/1.0 (+catalog search)"
)

// Config はカタログクライアントの設定を保持する。
type Config struct {
	Endpoint   string
	PageSize   int
	MaxResults int
	// MaxRetries は429と5xx、通信エラーに対する再試行回数。負の値で再試行しない。
	MaxRetries int
	RetryDelay time.Duration
}

// Client は書籍カタログのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	pageSize   int
	maxResults int
	maxRetries int
	retryDelay time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// 本番ではsecurity.OutboundGuardが生成したクライアントを渡す。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   cfg.Endpoint,
		pageSize:   cfg.PageSize,
		maxResults: cfg.MaxResults,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.maxResults <= 0 {
		c.maxResults = DefaultMaxResults
	}
	switch {
	case c.maxRetries == 0:
		c.maxRetries = DefaultMaxRetries
	case c.maxRetries < 0:
		c.maxRetries = 0
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	return c
}

// Search はタイトルで書籍を検索し、結果を遅延シーケンスとして返す。
// 取得や解析に失敗した場合はKindExternalのエラーを1回yieldして終了する。
// シーケンスはmaxResults件に達するか、空または不足したページを受け取った時点で終わる。
// 返すシーケンスは複数回・複数のゴルーチンから反復してよい。
func (c *Client) Search(ctx context.Context, title string) iter.Seq2[model.CatalogBook, error] {
	title = strings.TrimSpace(title)
	return func(yield func(model.CatalogBook, error) bool) {
		if title == "" {
			yield(model.CatalogBook{}, model.NewValidationError("titleは必須です"))
			return
		}

		yielded := 0
		for idx := 1; yielded < c.maxResults; idx += c.pageSize {
			books, err := c.fetchPageWithRetry(ctx, title, idx)
			if err != nil {
				c.logger.Warn("書籍カタログの検索に失敗しました",
					slog.String("title", title),
					slog.Int("idx", idx),
					slog.String("error", err.Error()),
				)
				yield(model.CatalogBook{}, model.NewCatalogUnavailableError(err.Error()))
				return
			}

			for _, book := range books {
				if !yield(book, nil) {
					return
				}
				yielded++
				if yielded >= c.maxResults {
					return
				}
			}
			if len(books) < c.pageSize {
				return
			}
		}
	}
}

// fetchPage はidx件目（1始まり）から1ページ分を取得して変換する。
func (c *Client) fetchPage(ctx context.Context, title string, idx int) ([]model.CatalogBook, error) {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("title", title)
	q.Set("cnt", strconv.Itoa(c.pageSize))
	q.Set("idx", strconv.Itoa(idx))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("文字コードの判定に失敗しました: %w", err)
	}

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("カタログAPIのレスポンスのパースに失敗しました: %w", err)
	}

	books := make([]model.CatalogBook, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		books = append(books, convertItem(item))
	}
	return books, nil
}

// convertItem はRSSの1件をCatalogBookに変換する。
// 著者はdc:creatorをカンマ区切りで連結し、出版社は最初のdc:publisherを使う。
func convertItem(item *gofeed.Item) model.CatalogBook {
	book := model.CatalogBook{Title: strings.TrimSpace(item.Title)}

	if dc := item.DublinCoreExt; dc != nil {
		if book.Title == "" && len(dc.Title) > 0 {
			book.Title = strings.TrimSpace(dc.Title[0])
		}
		book.Author = joinNonEmpty(dc.Creator)
		if len(dc.Publisher) > 0 {
			book.Manufacturer = strings.TrimSpace(dc.Publisher[0])
		}
		for _, id := range dc.Identifier {
			if isbn, ok := NormalizeISBN(id); ok {
				book.ISBN = isbn
				break
			}
		}
	}

	if book.Author == "" {
		names := make([]string, 0, len(item.Authors))
		for _, a := range item.Authors {
			if a != nil {
				names = append(names, a.Name)
			}
		}
		book.Author = joinNonEmpty(names)
	}
	return book
}

func joinNonEmpty(values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// NormalizeISBN はハイフンや空白を除去し、ISBN-10またはISBN-13の形式であれば正規化した値を返す。
// チェックディジットは検証しない。
func NormalizeISBN(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		case r == '-' || r == ' ':
		default:
			return "", false
		}
	}
	s := b.String()

	switch len(s) {
	case 10:
		if strings.Contains(s[:9], "X") {
			return "", false
		}
		return s, true
	case 13:
		if strings.Contains(s, "X") {
			return "", false
		}
		return s, true
	}
	return "", false
}
