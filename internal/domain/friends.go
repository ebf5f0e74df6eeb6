package domain

import (
	"context"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
)

// friendEvent はfriend_requested/friend_acceptedのタイムラインデータ。
type friendEvent struct {
	UserID int64 `json:"user_id"`
}

// RequestFriend はactorIDからfriendIDへ友達申請し、申請先のタイムラインに記録する。
func (f *Facade) RequestFriend(ctx context.Context, actorID, friendID int64) (err error) {
	defer func(start time.Time) { f.observe("request_friend", start, err) }(time.Now())

	if err := f.friends.RequestFriend(ctx, actorID, friendID); err != nil {
		return err
	}
	f.record(ctx, friendID, model.TimelineFriendRequested, friendEvent{UserID: actorID})
	return nil
}

// AcceptFriendRequest はrequesterIDからの申請を承認し、双方のタイムラインに記録する。
func (f *Facade) AcceptFriendRequest(ctx context.Context, actorID, requesterID int64) (err error) {
	defer func(start time.Time) { f.observe("accept_friend", start, err) }(time.Now())

	if err := f.requireActor(ctx, actorID); err != nil {
		return err
	}
	if err := f.friends.AcceptRequest(ctx, actorID, requesterID); err != nil {
		return err
	}
	f.record(ctx, actorID, model.TimelineFriendAccepted, friendEvent{UserID: requesterID})
	f.record(ctx, requesterID, model.TimelineFriendAccepted, friendEvent{UserID: actorID})
	return nil
}

// RejectFriendRequest はrequesterIDからの申請を拒否する。
func (f *Facade) RejectFriendRequest(ctx context.Context, actorID, requesterID int64) (err error) {
	defer func(start time.Time) { f.observe("reject_friend", start, err) }(time.Now())
	return f.friends.RejectRequest(ctx, actorID, requesterID)
}

// Unfriend は友達関係を解消する。
func (f *Facade) Unfriend(ctx context.Context, actorID, friendID int64) (err error) {
	defer func(start time.Time) { f.observe("unfriend", start, err) }(time.Now())
	return f.friends.Unfriend(ctx, actorID, friendID)
}

// ListFriends は友達のユーザー一覧を返す。
func (f *Facade) ListFriends(ctx context.Context, userID int64) ([]*model.User, error) {
	ids, err := f.friends.ListFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	return f.resolveUsers(ctx, ids)
}

// ListIncomingRequests は自分に届いている友達申請の申請者一覧を返す。
func (f *Facade) ListIncomingRequests(ctx context.Context, userID int64) ([]*model.User, error) {
	ids, err := f.friends.ListIncomingRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	return f.resolveUsers(ctx, ids)
}

// ListOutgoingRequests は自分が申請中の相手の一覧を返す。
func (f *Facade) ListOutgoingRequests(ctx context.Context, userID int64) ([]*model.User, error) {
	ids, err := f.friends.ListOutgoingRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	return f.resolveUsers(ctx, ids)
}

// resolveUsers はIDの並び順を保ったままユーザーを取得する。
// 取得中に退会したユーザーは結果から除外する。
func (f *Facade) resolveUsers(ctx context.Context, ids []int64) ([]*model.User, error) {
	users := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		u, err := f.users.Get(ctx, id)
		if model.IsKind(err, model.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}
