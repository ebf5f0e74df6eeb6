package model

import "time"

// Friend は有向の友達エッジ (user_id → friend_id) を表す。
// 承認済みの友達関係は双方向2本のエッジ（どちらもAccepted=true）で表現される。
// 申請中はAccepted=falseのエッジ1本のみで、「user_idがfriend_idに申請した」を意味する。
type Friend struct {
	UserID    int64     `db:"user_id"`
	FriendID  int64     `db:"friend_id"`
	Accepted  bool      `db:"accepted"`
	CreatedAt time.Time `db:"created_at"`
}
