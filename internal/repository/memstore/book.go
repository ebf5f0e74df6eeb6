package memstore

import (
	"context"

	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// BookRepo はStore上のBookRepository実装。
type BookRepo struct {
	s *Store
}

func (r *BookRepo) FindByID(_ context.Context, id int64) (*model.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *BookRepo) FindByISBN(_ context.Context, isbn string) (*model.Book, error) {
	if isbn == "" {
		return nil, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.books {
		if b.ISBN == isbn {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *BookRepo) Create(_ context.Context, book *model.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if book.ISBN != "" {
		for _, b := range r.s.books {
			if b.ISBN == book.ISBN {
				return repository.ErrDuplicate
			}
		}
	}
	r.s.nextBookID++
	book.ID = r.s.nextBookID
	cp := *book
	r.s.books[book.ID] = &cp
	return nil
}

var _ repository.BookRepository = (*BookRepo)(nil)
