package domain

import (
	"context"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
)

// loanEvent はborrowed/lent/returnedのタイムラインデータ。
type loanEvent struct {
	BookID     int64 `json:"book_id"`
	LenderID   int64 `json:"lender_id"`
	BorrowerID int64 `json:"borrower_id"`
}

// Borrow は本を借り、借り手にborrowed、貸し手にlentを記録する。
func (f *Facade) Borrow(ctx context.Context, req BorrowRequest) (b *model.Borrow, err error) {
	defer func(start time.Time) { f.observe("borrow", start, err) }(time.Now())

	if err := f.requireActor(ctx, req.BorrowerID); err != nil {
		return nil, err
	}
	borrow, err := f.lending.Borrow(ctx, req)
	if err != nil {
		return nil, err
	}
	event := loanEvent{BookID: req.BookID, LenderID: req.LenderID, BorrowerID: req.BorrowerID}
	f.record(ctx, req.BorrowerID, model.TimelineBorrowed, event)
	f.record(ctx, req.LenderID, model.TimelineLent, event)
	return borrow, nil
}

// Return は本を返却し、借り手と貸し手の双方にreturnedを記録する。
func (f *Facade) Return(ctx context.Context, actorID, lenderID, bookID int64) (err error) {
	defer func(start time.Time) { f.observe("return", start, err) }(time.Now())

	if err := f.lending.Return(ctx, actorID, lenderID, bookID); err != nil {
		return err
	}
	event := loanEvent{BookID: bookID, LenderID: lenderID, BorrowerID: actorID}
	f.record(ctx, actorID, model.TimelineReturned, event)
	f.record(ctx, lenderID, model.TimelineReturned, event)
	return nil
}

// ListActiveBorrows は借りている本の一覧を返す。
func (f *Facade) ListActiveBorrows(ctx context.Context, userID int64) ([]*model.Borrow, error) {
	return f.lending.ListActiveBorrows(ctx, userID)
}

// ListBorrowHistory は返却済みを含む貸出履歴を返す。
func (f *Facade) ListBorrowHistory(ctx context.Context, userID int64) ([]*model.Borrow, error) {
	return f.lending.ListBorrowHistory(ctx, userID)
}

// AddToShelf は本棚に本を追加する。
func (f *Facade) AddToShelf(ctx context.Context, actorID, bookID int64) (c *model.BookCopy, err error) {
	defer func(start time.Time) { f.observe("add_to_shelf", start, err) }(time.Now())

	if err := f.requireActor(ctx, actorID); err != nil {
		return nil, err
	}
	return f.lending.AddCopy(ctx, actorID, bookID)
}

// RemoveFromShelf は貸出中でない本を本棚から削除する。
func (f *Facade) RemoveFromShelf(ctx context.Context, actorID, bookID int64) (err error) {
	defer func(start time.Time) { f.observe("remove_from_shelf", start, err) }(time.Now())
	return f.lending.RemoveCopy(ctx, actorID, bookID)
}

// ListShelf は本棚の一覧を返す。
func (f *Facade) ListShelf(ctx context.Context, userID int64) ([]*model.BookCopy, error) {
	return f.lending.ListShelf(ctx, userID)
}

// RegisterBook は書誌情報を登録する。ISBNが同じ書籍があればそれを返す。
func (f *Facade) RegisterBook(ctx context.Context, book model.Book) (b *model.Book, err error) {
	defer func(start time.Time) { f.observe("register_book", start, err) }(time.Now())
	book.Title = f.sanitizer.Sanitize(book.Title)
	book.Author = f.sanitizer.Sanitize(book.Author)
	book.Manufacturer = f.sanitizer.Sanitize(book.Manufacturer)
	return f.lending.RegisterBook(ctx, book)
}

// GetBook は書籍を取得する。
func (f *Facade) GetBook(ctx context.Context, bookID int64) (*model.Book, error) {
	return f.lending.GetBook(ctx, bookID)
}
