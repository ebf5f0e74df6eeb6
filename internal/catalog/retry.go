package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
)

const (
	// DefaultMaxRetries は一時的な失敗に対する再試行回数のデフォルト値。
	DefaultMaxRetries = 2
	// DefaultRetryDelay は初回再試行までの待ち時間のデフォルト値。
	DefaultRetryDelay = 200 * time.Millisecond
	// maxRetryDelay は再試行間隔の上限。
	maxRetryDelay = 2 * time.Second
)

// statusError はカタログAPIが200以外のステータスを返したことを表す。
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("カタログAPIがステータス %d を返しました", e.code)
}

// transportError はHTTP通信そのものの失敗を表す。
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("カタログAPIの呼び出しに失敗しました: %v", e.err)
}

func (e *transportError) Unwrap() error { return e.err }

// retryable はerrが再試行で回復しうる一時的な失敗かどうかを返す。
// 429と5xx、コンテキスト以外の通信エラーが対象で、404などの恒久的な失敗や解析エラーは対象外。
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var te *transportError
	if errors.As(err, &te) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return false
}

// backoff はattempt回目（0始まり）の再試行までの待ち時間を返す。
// baseから2倍ずつ増加し、maxRetryDelayで頭打ちになる。
func backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// fetchPageWithRetry は一時的な失敗に対して指数バックオフで再試行しながら1ページを取得する。
func (c *Client) fetchPageWithRetry(ctx context.Context, title string, idx int) ([]model.CatalogBook, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(c.retryDelay, attempt-1)
			c.logger.Info("書籍カタログの検索を再試行します",
				slog.Int("idx", idx),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("再試行を中断しました: %w", ctx.Err())
			case <-timer.C:
			}
		}

		books, err := c.fetchPage(ctx, title, idx)
		if err == nil {
			return books, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
