package domain

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/bookshare/internal/model"
)

// eventMessage はRecordEventで記録する任意イベントのデータ。
type eventMessage struct {
	Message string `json:"message"`
}

// maxEventTypeLength はRecordEventで指定できる種別の最大文字数。
const maxEventTypeLength = 32

// RecordEvent は操作ユーザーのタイムラインに任意のイベントを記録する。
// システムが記録する種別（borrowedなど）は指定できない。
// 状態変更を伴わないため、記録の失敗はそのままエラーとして返す。
func (f *Facade) RecordEvent(ctx context.Context, actorID int64, typ model.TimelineType, message string) (e *model.TimelineEntry, err error) {
	defer func(start time.Time) { f.observe("record_event", start, err) }(time.Now())

	if err := validateEventType(typ); err != nil {
		return nil, err
	}
	if err := f.requireActor(ctx, actorID); err != nil {
		return nil, err
	}
	return f.timeline.Record(ctx, actorID, typ, eventMessage{Message: f.sanitizer.Sanitize(message)})
}

func validateEventType(typ model.TimelineType) error {
	switch {
	case strings.TrimSpace(string(typ)) == "":
		return model.NewValidationError("typeは必須です")
	case utf8.RuneCountInString(string(typ)) > maxEventTypeLength:
		return model.NewValidationError(fmt.Sprintf("typeは%d文字以内で指定してください", maxEventTypeLength))
	case typ.System():
		return model.NewValidationError(fmt.Sprintf("type %q はシステムが記録する種別のため指定できません", typ))
	}
	return nil
}

// ListTimeline はタイムラインを新しい順に返す。
func (f *Facade) ListTimeline(ctx context.Context, userID int64) ([]*model.TimelineEntry, error) {
	return f.timeline.ListTimeline(ctx, userID)
}

// SearchCatalog は外部カタログをタイトルで検索する。
// 結果は遅延シーケンスで、外部サービスの障害はKindExternalのエラーとしてyieldされる。
func (f *Facade) SearchCatalog(ctx context.Context, title string) iter.Seq2[model.CatalogBook, error] {
	if f.catalog == nil {
		return func(yield func(model.CatalogBook, error) bool) {
			yield(model.CatalogBook{}, model.NewCatalogUnavailableError("カタログ検索が設定されていません"))
		}
	}
	return f.catalog.Search(ctx, title)
}
