package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// LendingRepo はStore上のBookshelf/Borrow/LedgerRepository実装。
type LendingRepo struct {
	s *Store
}

func (r *LendingRepo) FindCopy(_ context.Context, lenderID, bookID int64) (*model.BookCopy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.shelves[copyKey{lenderID, bookID}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *LendingRepo) AddCopy(_ context.Context, lenderID, bookID int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.hasUser(lenderID) {
		return false, repository.ErrUserNotFound
	}
	k := copyKey{lenderID, bookID}
	if _, ok := r.s.shelves[k]; ok {
		return false, nil
	}
	r.s.shelves[k] = &model.BookCopy{LenderID: lenderID, BookID: bookID, CreatedAt: at}
	return true, nil
}

func (r *LendingRepo) RemoveCopy(_ context.Context, lenderID, bookID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := copyKey{lenderID, bookID}
	c, ok := r.s.shelves[k]
	if !ok || !c.Available() {
		return false, nil
	}
	delete(r.s.shelves, k)
	return true, nil
}

func (r *LendingRepo) ListByLender(_ context.Context, lenderID int64) ([]*model.BookCopy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	copies := []*model.BookCopy{}
	for _, c := range r.s.shelves {
		if c.LenderID == lenderID {
			cp := *c
			copies = append(copies, &cp)
		}
	}
	slices.SortFunc(copies, func(a, b *model.BookCopy) int {
		return cmp.Compare(a.BookID, b.BookID)
	})
	return copies, nil
}

func (r *LendingRepo) FindActiveByBorrower(_ context.Context, borrowerID, bookID int64) (*model.Borrow, error) {
	return r.findBorrow(func(b *model.Borrow) bool {
		return b.Active() && b.UserID == borrowerID && b.BookID == bookID
	}), nil
}

func (r *LendingRepo) FindActiveByCopy(_ context.Context, lenderID, bookID int64) (*model.Borrow, error) {
	return r.findBorrow(func(b *model.Borrow) bool {
		return b.Active() && b.LenderID == lenderID && b.BookID == bookID
	}), nil
}

func (r *LendingRepo) findBorrow(match func(*model.Borrow) bool) *model.Borrow {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.borrows {
		if match(b) {
			cp := *b
			return &cp
		}
	}
	return nil
}

func (r *LendingRepo) ListActiveByUser(_ context.Context, userID int64) ([]*model.Borrow, error) {
	return r.listBorrows(func(b *model.Borrow) bool {
		return b.UserID == userID && b.Active()
	}), nil
}

func (r *LendingRepo) ListByUser(_ context.Context, userID int64) ([]*model.Borrow, error) {
	return r.listBorrows(func(b *model.Borrow) bool {
		return b.UserID == userID
	}), nil
}

// listBorrowsはborrowsが挿入順（ID順）に並んでいることを前提にする。
func (r *LendingRepo) listBorrows(match func(*model.Borrow) bool) []*model.Borrow {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	borrows := []*model.Borrow{}
	for _, b := range r.s.borrows {
		if match(b) {
			cp := *b
			borrows = append(borrows, &cp)
		}
	}
	return borrows
}

func (r *LendingRepo) Lend(_ context.Context, borrow *model.Borrow) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.hasUser(borrow.UserID) {
		return false, repository.ErrUserNotFound
	}
	c, ok := r.s.shelves[copyKey{borrow.LenderID, borrow.BookID}]
	if !ok || !c.Available() {
		return false, nil
	}
	for _, b := range r.s.borrows {
		if b.Active() && b.UserID == borrow.UserID && b.BookID == borrow.BookID {
			return false, repository.ErrDuplicate
		}
	}

	c.BorrowerID = borrow.UserID
	r.s.nextBorrowID++
	borrow.ID = r.s.nextBorrowID
	cp := *borrow
	r.s.borrows = append(r.s.borrows, &cp)
	if u, ok := r.s.users[borrow.UserID]; ok {
		u.BorrowNum++
	}
	if u, ok := r.s.users[borrow.LenderID]; ok {
		u.LendNum++
	}
	return true, nil
}

func (r *LendingRepo) Release(_ context.Context, borrowerID, lenderID, bookID int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.shelves[copyKey{lenderID, bookID}]
	if !ok || c.BorrowerID != borrowerID || borrowerID == model.NoBorrower {
		return false, nil
	}
	var open *model.Borrow
	for _, b := range r.s.borrows {
		if b.Active() && b.UserID == borrowerID && b.LenderID == lenderID && b.BookID == bookID {
			open = b
			break
		}
	}
	if open == nil {
		return false, repository.ErrInconsistent
	}
	returned := at
	open.ReturnedAt = &returned
	c.BorrowerID = model.NoBorrower
	return true, nil
}

var (
	_ repository.BookshelfRepository = (*LendingRepo)(nil)
	_ repository.BorrowRepository    = (*LendingRepo)(nil)
	_ repository.LedgerRepository    = (*LendingRepo)(nil)
)
