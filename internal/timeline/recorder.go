// Package timeline はユーザーごとの上限付きアクティビティ履歴を管理する。
package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hitoshi/bookshare/internal/keylock"
	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// Capacity はユーザーごとに保持するエントリ数の上限。
const Capacity = 20

// Option はRecorderの設定を変更する。
type Option func(*Recorder)

// WithCapacity は保持上限を変更する。テスト用。
func WithCapacity(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder はタイムラインの記録と参照を行う。
// 同一ユーザーへの記録はプロセス内ではkeylockで、プロセス間ではリポジトリの
// トランザクションで直列化されるため、保持件数は上限を超えない。
type Recorder struct {
	repo     repository.TimelineRepository
	locks    *keylock.Locker
	capacity int
	now      func() time.Time
}

// NewRecorder はRecorderの新しいインスタンスを生成する。
func NewRecorder(repo repository.TimelineRepository, locks *keylock.Locker, opts ...Option) *Recorder {
	if locks == nil {
		locks = keylock.New()
	}
	r := &Recorder{
		repo:     repo,
		locks:    locks,
		capacity: Capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Capacity は保持上限を返す。
func (r *Recorder) Capacity() int {
	return r.capacity
}

// Record はユーザーのタイムラインにエントリを追加する。
// 上限に達している場合は最も古いエントリから削除してから追加する。
// dataはJSONにエンコードして保存する。nilの場合は空オブジェクトになる。
func (r *Recorder) Record(ctx context.Context, userID int64, typ model.TimelineType, data any) (*model.TimelineEntry, error) {
	if typ == "" {
		return nil, model.NewValidationError("typeは必須です")
	}

	raw, err := encode(data)
	if err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("dataをJSONに変換できません: %v", err))
	}

	unlock := r.locks.Lock(keylock.UserKey(userID))
	defer unlock()

	entry := &model.TimelineEntry{
		UserID:    userID,
		Type:      typ,
		Data:      raw,
		CreatedAt: r.now(),
	}
	_, err = r.repo.Append(ctx, entry, r.capacity)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, model.NewUserNotFoundError(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("タイムラインの記録に失敗しました: %w", err)
	}
	return entry, nil
}

// ListTimeline はユーザーのエントリを新しい順に返す。
func (r *Recorder) ListTimeline(ctx context.Context, userID int64) ([]*model.TimelineEntry, error) {
	entries, err := r.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("タイムラインの取得に失敗しました: %w", err)
	}
	return entries, nil
}

func encode(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !jsoniter.ConfigCompatibleWithStandardLibrary.Valid(v) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return v, nil
	}
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}
