package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// FriendRepo はStore上のFriendRepository実装。
type FriendRepo struct {
	s *Store
}

func (r *FriendRepo) FindEdge(_ context.Context, userID, friendID int64) (*model.Friend, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.friends[edgeKey{userID, friendID}]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *FriendRepo) CreateRequest(_ context.Context, requesterID, targetID int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.hasUser(requesterID) || !r.s.hasUser(targetID) {
		return false, repository.ErrUserNotFound
	}
	k := edgeKey{requesterID, targetID}
	if _, ok := r.s.friends[k]; ok {
		return false, nil
	}
	r.s.friends[k] = &model.Friend{UserID: requesterID, FriendID: targetID, CreatedAt: at}
	return true, nil
}

func (r *FriendRepo) Accept(_ context.Context, requesterID, accepterID int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.friends[edgeKey{requesterID, accepterID}]
	if !ok || e.Accepted {
		return false, nil
	}
	e.Accepted = true
	if rev, ok := r.s.friends[edgeKey{accepterID, requesterID}]; ok {
		rev.Accepted = true
	} else {
		r.s.friends[edgeKey{accepterID, requesterID}] = &model.Friend{
			UserID: accepterID, FriendID: requesterID, Accepted: true, CreatedAt: at,
		}
	}
	return true, nil
}

func (r *FriendRepo) DeletePending(_ context.Context, requesterID, accepterID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := edgeKey{requesterID, accepterID}
	e, ok := r.s.friends[k]
	if !ok || e.Accepted {
		return false, nil
	}
	delete(r.s.friends, k)
	return true, nil
}

// DeleteMutual は両方向の承認済みエッジが揃っている場合のみ削除する。
func (r *FriendRepo) DeleteMutual(_ context.Context, userID, friendID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, k := range []edgeKey{{userID, friendID}, {friendID, userID}} {
		if e, ok := r.s.friends[k]; ok && e.Accepted {
			n++
		}
	}
	if n != 2 {
		return n, nil
	}
	delete(r.s.friends, edgeKey{userID, friendID})
	delete(r.s.friends, edgeKey{friendID, userID})
	return 2, nil
}

func (r *FriendRepo) ListFriendIDs(_ context.Context, userID int64) ([]int64, error) {
	return r.collect(func(e *model.Friend) (int64, bool) {
		return e.FriendID, e.UserID == userID && e.Accepted
	}), nil
}

func (r *FriendRepo) ListRequesterIDs(_ context.Context, userID int64) ([]int64, error) {
	return r.collect(func(e *model.Friend) (int64, bool) {
		return e.UserID, e.FriendID == userID && !e.Accepted
	}), nil
}

func (r *FriendRepo) ListRequestedIDs(_ context.Context, userID int64) ([]int64, error) {
	return r.collect(func(e *model.Friend) (int64, bool) {
		return e.FriendID, e.UserID == userID && !e.Accepted
	}), nil
}

func (r *FriendRepo) collect(match func(*model.Friend) (int64, bool)) []int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := []int64{}
	for _, e := range r.s.friends {
		if id, ok := match(e); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

var _ repository.FriendRepository = (*FriendRepo)(nil)
