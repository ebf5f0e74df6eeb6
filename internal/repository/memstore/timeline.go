package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// TimelineRepo はStore上のTimelineRepository実装。
// ユーザーごとのエントリは挿入順（ID昇順）で保持する。
type TimelineRepo struct {
	s *Store
}

func (r *TimelineRepo) Append(_ context.Context, entry *model.TimelineEntry, capacity int) (int, error) {
	if capacity <= 0 {
		return 0, fmt.Errorf("capacity must be positive: %d", capacity)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.hasUser(entry.UserID) {
		return 0, repository.ErrUserNotFound
	}

	entries := newestFirst(r.s.timelines[entry.UserID])
	evicted := 0
	if len(entries) > capacity-1 {
		evicted = len(entries) - (capacity - 1)
		entries = entries[:capacity-1]
	}
	slices.Reverse(entries)

	r.s.nextTimelineID++
	entry.ID = r.s.nextTimelineID
	cp := *entry
	r.s.timelines[entry.UserID] = append(entries, &cp)
	return evicted, nil
}

func (r *TimelineRepo) ListByUser(_ context.Context, userID int64) ([]*model.TimelineEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sorted := newestFirst(r.s.timelines[userID])
	out := make([]*model.TimelineEntry, len(sorted))
	for i, e := range sorted {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (r *TimelineRepo) CountByUser(_ context.Context, userID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.timelines[userID]), nil
}

// newestFirst はcreated_at降順、同時刻ならID降順に並べた新しいスライスを返す。
func newestFirst(entries []*model.TimelineEntry) []*model.TimelineEntry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b *model.TimelineEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return sorted
}

var _ repository.TimelineRepository = (*TimelineRepo)(nil)
