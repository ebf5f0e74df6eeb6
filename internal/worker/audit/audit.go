// Package audit は永続化データの不変条件を定期的に検査するジョブを提供する。
// 違反を検出した場合はログとメトリクスに記録するだけで、修復は行わない。
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bookshare/internal/metrics"
	"github.com/hitoshi/bookshare/internal/repository"
	"github.com/hitoshi/bookshare/internal/timeline"
)

// 監査チェック名。メトリクスのラベルとログに使う。
const (
	CheckUnpairedFriendEdges = "unpaired_friend_edges"
	CheckUnmatchedLentCopies = "unmatched_lent_copies"
	CheckOverfullTimelines   = "overfull_timelines"
)

// Report は1回の監査で検出した件数を保持する。
type Report struct {
	UnpairedFriendEdges int
	UnmatchedLentCopies int
	OverfullTimelines   int
}

// Total は検出件数の合計を返す。
func (r Report) Total() int {
	return r.UnpairedFriendEdges + r.UnmatchedLentCopies + r.OverfullTimelines
}

// Job は不変条件の監査ジョブ。
type Job struct {
	repo     repository.AuditRepository
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	Capacity int // タイムラインの保持上限（デフォルト: timeline.Capacity）
}

// NewJob は新しいJobを生成する。
func NewJob(repo repository.AuditRepository, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Job{
		repo:     repo,
		metrics:  collector,
		logger:   logger,
		Capacity: timeline.Capacity,
	}
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("監査ジョブを開始しました", slog.Duration("interval", interval))

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("監査ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Error("監査ジョブの実行に失敗しました", slog.String("error", err.Error()))
	}
}

// Run は全チェックを1回ずつ実行し、検出件数を返す。
// 1つのチェックが失敗しても残りのチェックは実行し、最初のエラーを返す。
func (j *Job) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	edges, err := j.repo.FindUnpairedFriendEdges(ctx)
	if err != nil {
		keep(fmt.Errorf("片方向の友達エッジの検査に失敗: %w", err))
	} else {
		report.UnpairedFriendEdges = len(edges)
		for _, e := range edges {
			j.logger.Error("逆向きのエッジがない承認済み友達エッジを検出しました",
				slog.String("check", CheckUnpairedFriendEdges),
				slog.Int64("user_id", e.UserID),
				slog.Int64("friend_id", e.FriendID),
			)
		}
		j.recordFindings(CheckUnpairedFriendEdges, len(edges))
	}

	copies, err := j.repo.FindUnmatchedLentCopies(ctx)
	if err != nil {
		keep(fmt.Errorf("貸出中の本の検査に失敗: %w", err))
	} else {
		report.UnmatchedLentCopies = len(copies)
		for _, c := range copies {
			j.logger.Error("貸出レコードのない貸出中の本を検出しました",
				slog.String("check", CheckUnmatchedLentCopies),
				slog.Int64("lender_id", c.LenderID),
				slog.Int64("book_id", c.BookID),
				slog.Int64("borrower_id", c.BorrowerID),
			)
		}
		j.recordFindings(CheckUnmatchedLentCopies, len(copies))
	}

	userIDs, err := j.repo.FindOverfullTimelines(ctx, j.Capacity)
	if err != nil {
		keep(fmt.Errorf("タイムラインの検査に失敗: %w", err))
	} else {
		report.OverfullTimelines = len(userIDs)
		for _, id := range userIDs {
			j.logger.Error("保持上限を超えたタイムラインを検出しました",
				slog.String("check", CheckOverfullTimelines),
				slog.Int64("user_id", id),
				slog.Int("capacity", j.Capacity),
			)
		}
		j.recordFindings(CheckOverfullTimelines, len(userIDs))
	}

	j.logger.Info("監査ジョブが完了しました",
		slog.Int("findings", report.Total()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return report, firstErr
}

func (j *Job) recordFindings(check string, count int) {
	j.metrics.RecordAuditFindings(check, count)
	for range count {
		j.metrics.RecordConsistencyViolation("audit_" + check)
	}
}
