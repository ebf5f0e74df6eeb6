// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// プロフィール項目はコアロジックからは不透明な値として扱う。
type User struct {
	ID             int64     `db:"user_id"`
	Email          string    `db:"email"`
	PasswordHash   string    `db:"password_hash"`
	FirstName      string    `db:"firstname"`
	LastName       string    `db:"lastname"`
	School         string    `db:"school"`
	LendNum        int       `db:"lend_num"`
	BorrowNum      int       `db:"borrow_num"`
	InvitationCode string    `db:"invitation_code"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ProfileUpdate はプロフィールの部分更新を表す。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	School    *string
}
