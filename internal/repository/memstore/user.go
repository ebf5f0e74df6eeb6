package memstore

import (
	"context"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// UserRepo はStore上のUserRepository実装。
type UserRepo struct {
	s *Store
}

func (r *UserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email || (user.InvitationCode != "" && u.InvitationCode == user.InvitationCode) {
			return repository.ErrDuplicate
		}
	}
	r.s.nextUserID++
	user.ID = r.s.nextUserID
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *UserRepo) UpdateProfile(_ context.Context, id int64, update model.ProfileUpdate) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	if update.Email != nil {
		for otherID, other := range r.s.users {
			if otherID != id && other.Email == *update.Email {
				return nil, repository.ErrDuplicate
			}
		}
		u.Email = *update.Email
	}
	if update.FirstName != nil {
		u.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		u.LastName = *update.LastName
	}
	if update.School != nil {
		u.School = *update.School
	}
	u.UpdatedAt = time.Now()
	cp := *u
	return &cp, nil
}

// DeleteCascade はPostgreSQL実装と同じ順序で依存データを削除する。
func (r *UserRepo) DeleteCascade(_ context.Context, id int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return false, nil
	}

	for k := range r.s.friends {
		if k.from == id || k.to == id {
			delete(r.s.friends, k)
		}
	}
	for _, c := range r.s.shelves {
		if c.BorrowerID == id {
			c.BorrowerID = model.NoBorrower
		}
	}
	kept := r.s.borrows[:0]
	for _, b := range r.s.borrows {
		if b.UserID == id {
			continue
		}
		if b.LenderID == id && b.Active() {
			returned := at
			b.ReturnedAt = &returned
		}
		kept = append(kept, b)
	}
	r.s.borrows = kept
	for k := range r.s.shelves {
		if k.lender == id {
			delete(r.s.shelves, k)
		}
	}
	delete(r.s.timelines, id)
	delete(r.s.users, id)
	return true, nil
}

var _ repository.UserRepository = (*UserRepo)(nil)
