package domain

import (
	"context"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
)

// Register はユーザーを登録する。
func (f *Facade) Register(ctx context.Context, req RegisterRequest) (u *model.User, err error) {
	defer func(start time.Time) { f.observe("register", start, err) }(time.Now())
	return f.users.Register(ctx, req)
}

// GetUser はユーザーを取得する。
func (f *Facade) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return f.users.Get(ctx, userID)
}

// UpdateProfile は操作ユーザー自身のプロフィールを更新する。
func (f *Facade) UpdateProfile(ctx context.Context, actorID int64, req UpdateProfileRequest) (u *model.User, err error) {
	defer func(start time.Time) { f.observe("update_profile", start, err) }(time.Now())
	return f.users.UpdateProfile(ctx, actorID, req)
}

// DeleteUser は操作ユーザー自身を退会させる。
// 友達関係、借りている本、本棚、タイムラインは同一トランザクションで整理される。
func (f *Facade) DeleteUser(ctx context.Context, actorID int64) (err error) {
	defer func(start time.Time) { f.observe("delete_user", start, err) }(time.Now())
	return f.users.Delete(ctx, actorID)
}

// Login はメールアドレスとパスワードでユーザーを認証する。
func (f *Facade) Login(ctx context.Context, email, password string) (u *model.User, err error) {
	defer func(start time.Time) { f.observe("login", start, err) }(time.Now())
	return f.users.Authenticate(ctx, email, password)
}
