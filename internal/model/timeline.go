package model

import (
	"encoding/json"
	"time"
)

// TimelineType はタイムラインイベントの種別を表す。
type TimelineType string

const (
	TimelineFriendRequested TimelineType = "friend_requested"
	TimelineFriendAccepted  TimelineType = "friend_accepted"
	TimelineBorrowed        TimelineType = "borrowed"
	TimelineLent            TimelineType = "lent"
	TimelineReturned        TimelineType = "returned"
)

// System は状態変更に伴ってシステムが記録する種別かどうかを返す。
func (t TimelineType) System() bool {
	switch t {
	case TimelineFriendRequested, TimelineFriendAccepted, TimelineBorrowed, TimelineLent, TimelineReturned:
		return true
	}
	return false
}

// TimelineEntry はユーザーごとのアクティビティ履歴の1件を表す。
// IDは挿入順の連番で、CreatedAtが同じ場合の順序付けに使う。
type TimelineEntry struct {
	ID        int64           `db:"id"`
	UserID    int64           `db:"user_id"`
	Type      TimelineType    `db:"type"`
	Data      json.RawMessage `db:"data"`
	CreatedAt time.Time       `db:"created_at"`
}
