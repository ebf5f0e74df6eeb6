package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/bookshare/internal/metrics"
	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository/memstore"
)

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findingsRecorder は監査メトリクスの呼び出しを記録する。
type findingsRecorder struct {
	metrics.Nop
	mu         sync.Mutex
	findings   map[string]int
	violations map[string]int
}

func newFindingsRecorder() *findingsRecorder {
	return &findingsRecorder{findings: map[string]int{}, violations: map[string]int{}}
}

func (r *findingsRecorder) RecordAuditFindings(check string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings[check] = count
}

func (r *findingsRecorder) RecordConsistencyViolation(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations[source]++
}

// mockAuditRepo はAuditRepositoryのモック。
type mockAuditRepo struct {
	unpairedFn func(ctx context.Context) ([]model.Friend, error)
	lentFn     func(ctx context.Context) ([]model.BookCopy, error)
	overfullFn func(ctx context.Context, capacity int) ([]int64, error)
}

func (m *mockAuditRepo) FindUnpairedFriendEdges(ctx context.Context) ([]model.Friend, error) {
	if m.unpairedFn != nil {
		return m.unpairedFn(ctx)
	}
	return nil, nil
}

func (m *mockAuditRepo) FindUnmatchedLentCopies(ctx context.Context) ([]model.BookCopy, error) {
	if m.lentFn != nil {
		return m.lentFn(ctx)
	}
	return nil, nil
}

func (m *mockAuditRepo) FindOverfullTimelines(ctx context.Context, capacity int) ([]int64, error) {
	if m.overfullFn != nil {
		return m.overfullFn(ctx, capacity)
	}
	return nil, nil
}

func TestNewJob_DefaultCapacity(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockAuditRepo{}, nil, newTestLogger(&buf))

	if job.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20", job.Capacity)
	}
}

func TestJob_Run_CleanStore(t *testing.T) {
	var buf bytes.Buffer
	store := memstore.New()
	rec := newFindingsRecorder()
	job := NewJob(store.Audit(), rec, newTestLogger(&buf))

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Total() != 0 {
		t.Errorf("Total() = %d, want 0", report.Total())
	}
	for _, check := range []string{CheckUnpairedFriendEdges, CheckUnmatchedLentCopies, CheckOverfullTimelines} {
		if got, ok := rec.findings[check]; !ok || got != 0 {
			t.Errorf("findings[%s] = %d (recorded=%v), want 0", check, got, ok)
		}
	}
	if len(rec.violations) != 0 {
		t.Errorf("violations = %v, want none", rec.violations)
	}
	if !strings.Contains(buf.String(), "監査ジョブが完了しました") {
		t.Error("completion log should be written")
	}
}

func TestJob_Run_DetectsViolations(t *testing.T) {
	var buf bytes.Buffer
	store := memstore.New()
	now := time.Now()

	// 片方向だけの承認済みエッジ
	store.PutFriendEdge(model.Friend{UserID: 1, FriendID: 2, Accepted: true, CreatedAt: now})
	// 正常な双方向エッジ
	store.PutFriendEdge(model.Friend{UserID: 3, FriendID: 4, Accepted: true, CreatedAt: now})
	store.PutFriendEdge(model.Friend{UserID: 4, FriendID: 3, Accepted: true, CreatedAt: now})
	// 貸出レコードのない貸出中の本
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 10, BorrowerID: 6, CreatedAt: now})
	// 上限を超えたタイムライン
	for i := range 3 {
		store.PutTimelineEntry(model.TimelineEntry{UserID: 7, Type: model.TimelineLent, CreatedAt: now.Add(time.Duration(i) * time.Second)})
	}

	rec := newFindingsRecorder()
	job := NewJob(store.Audit(), rec, newTestLogger(&buf))
	job.Capacity = 2

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if report.UnpairedFriendEdges != 1 {
		t.Errorf("UnpairedFriendEdges = %d, want 1", report.UnpairedFriendEdges)
	}
	if report.UnmatchedLentCopies != 1 {
		t.Errorf("UnmatchedLentCopies = %d, want 1", report.UnmatchedLentCopies)
	}
	if report.OverfullTimelines != 1 {
		t.Errorf("OverfullTimelines = %d, want 1", report.OverfullTimelines)
	}
	if rec.violations["audit_"+CheckUnmatchedLentCopies] != 1 {
		t.Errorf("violations = %v", rec.violations)
	}

	logs := buf.String()
	for _, want := range []string{`"check":"unpaired_friend_edges"`, `"lender_id":5`, `"capacity":2`} {
		if !strings.Contains(logs, want) {
			t.Errorf("log output should contain %s", want)
		}
	}

	// 検出のみで修復はしない
	again, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if again.Total() != 3 {
		t.Errorf("second run Total() = %d, want 3", again.Total())
	}
}

func TestJob_Run_ContinuesAfterCheckFailure(t *testing.T) {
	var buf bytes.Buffer
	overfullCalled := false
	repo := &mockAuditRepo{
		unpairedFn: func(context.Context) ([]model.Friend, error) {
			return nil, errors.New("connection reset")
		},
		overfullFn: func(context.Context, int) ([]int64, error) {
			overfullCalled = true
			return []int64{9}, nil
		},
	}
	job := NewJob(repo, nil, newTestLogger(&buf))

	report, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error should wrap the cause: %v", err)
	}
	if !overfullCalled {
		t.Error("remaining checks should run after a failure")
	}
	if report.OverfullTimelines != 1 {
		t.Errorf("OverfullTimelines = %d, want 1", report.OverfullTimelines)
	}
}

func TestJob_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	calls := 0
	repo := &mockAuditRepo{
		unpairedFn: func(context.Context) ([]model.Friend, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return nil, nil
		},
	}
	job := NewJob(repo, nil, newTestLogger(&syncBuffer{buf: &buf}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return after context cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls < 1 {
		t.Errorf("calls = %d, want at least 1", calls)
	}
}

// syncBuffer はゴルーチンから書き込まれるログ用のバッファ。
type syncBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
