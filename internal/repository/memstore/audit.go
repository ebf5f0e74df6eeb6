package memstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// AuditRepo はStore上のAuditRepository実装。
type AuditRepo struct {
	s *Store
}

func (r *AuditRepo) FindUnpairedFriendEdges(_ context.Context) ([]model.Friend, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Friend
	for k, e := range r.s.friends {
		if !e.Accepted {
			continue
		}
		if rev, ok := r.s.friends[edgeKey{k.to, k.from}]; ok && rev.Accepted {
			continue
		}
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b model.Friend) int {
		if a.UserID != b.UserID {
			return cmp.Compare(a.UserID, b.UserID)
		}
		return cmp.Compare(a.FriendID, b.FriendID)
	})
	return out, nil
}

func (r *AuditRepo) FindUnmatchedLentCopies(_ context.Context) ([]model.BookCopy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.BookCopy
	for _, c := range r.s.shelves {
		if c.Available() {
			continue
		}
		matched := false
		for _, b := range r.s.borrows {
			if b.Active() && b.LenderID == c.LenderID && b.BookID == c.BookID && b.UserID == c.BorrowerID {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b model.BookCopy) int {
		if a.LenderID != b.LenderID {
			return cmp.Compare(a.LenderID, b.LenderID)
		}
		return cmp.Compare(a.BookID, b.BookID)
	})
	return out, nil
}

func (r *AuditRepo) FindOverfullTimelines(_ context.Context, capacity int) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []int64
	for userID, entries := range r.s.timelines {
		if len(entries) > capacity {
			ids = append(ids, userID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

var _ repository.AuditRepository = (*AuditRepo)(nil)
