package lending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
	"github.com/hitoshi/bookshare/internal/repository/memstore"
)

// newStore は指定IDのユーザーが登録済みのStoreを返す。
func newStore(userIDs ...int64) *memstore.Store {
	store := memstore.New()
	store.PutUsers(userIDs...)
	return store
}

func newService(store *memstore.Store) *Service {
	lending := store.Lending()
	return NewService(store.Books(), lending, lending, lending, nil)
}

func assertKind(t *testing.T, err error, kind model.ErrorKind, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected *model.APIError, got %v", err)
	assert.Equal(t, kind, apiErr.Kind)
	assert.Equal(t, code, apiErr.Code)
}

func borrowerOf(t *testing.T, store *memstore.Store, lenderID, bookID int64) int64 {
	t.Helper()
	c, err := store.Lending().FindCopy(context.Background(), lenderID, bookID)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c.BorrowerID
}

// 貸し手5の書籍100を借り手7と9が順に借りるシナリオ
func TestBorrowReturnScenario(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100})
	svc := newService(store)
	ctx := context.Background()

	borrow, err := svc.Borrow(ctx, BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(7), borrow.UserID)
	assert.Equal(t, int64(7), borrowerOf(t, store, 5, 100))

	_, err = svc.Borrow(ctx, BorrowRequest{BorrowerID: 9, LenderID: 5, BookID: 100})
	assertKind(t, err, model.KindConflict, model.ErrCodeBookCopyLent)
	assert.Equal(t, int64(7), borrowerOf(t, store, 5, 100), "failed borrow must not change the borrower")

	require.NoError(t, svc.Return(ctx, 7, 5, 100))
	assert.Equal(t, model.NoBorrower, borrowerOf(t, store, 5, 100))

	_, err = svc.Borrow(ctx, BorrowRequest{BorrowerID: 9, LenderID: 5, BookID: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(9), borrowerOf(t, store, 5, 100))
}

func TestBorrow_Errors(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100})
	store.PutBookCopy(model.BookCopy{LenderID: 6, BookID: 100})
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.Borrow(ctx, BorrowRequest{BorrowerID: 5, LenderID: 5, BookID: 100})
	assertKind(t, err, model.KindConflict, model.ErrCodeOwnBookCopy)

	_, err = svc.Borrow(ctx, BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: 200})
	assertKind(t, err, model.KindNotFound, model.ErrCodeBookCopyNotFound)

	_, err = svc.Borrow(ctx, BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: 100})
	require.NoError(t, err)

	// 別の貸し手の同じ書籍も借りられない
	_, err = svc.Borrow(ctx, BorrowRequest{BorrowerID: 7, LenderID: 6, BookID: 100})
	assertKind(t, err, model.KindConflict, model.ErrCodeAlreadyBorrowing)
	assert.Equal(t, model.NoBorrower, borrowerOf(t, store, 6, 100))
}

func TestBorrow_KeepsDueDate(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100})
	svc := newService(store)
	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Borrow(context.Background(), BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: 100, DueDate: &due})
	require.NoError(t, err)

	active, err := svc.ListActiveBorrows(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NotNil(t, active[0].DueDate)
	assert.True(t, due.Equal(*active[0].DueDate))
}

func TestBorrow_ConcurrentBorrowersOneWins(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100})
	svc := newService(store)
	ctx := context.Background()

	const n = 32
	for i := 0; i < n; i++ {
		store.PutUsers(int64(1000 + i))
	}
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Borrow(ctx, BorrowRequest{BorrowerID: int64(1000 + i), LenderID: 5, BookID: 100})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assertKind(t, err, model.KindConflict, model.ErrCodeBookCopyLent)
	}
	assert.Equal(t, 1, winners)

	active, err := store.Lending().FindActiveByCopy(ctx, 5, 100)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, active.UserID, borrowerOf(t, store, 5, 100))
}

// lostRaceLedger はストレージ上で他プロセスに先に貸し出された状態を模擬する。
type lostRaceLedger struct {
	repository.LedgerRepository
}

func (lostRaceLedger) Lend(context.Context, *model.Borrow) (bool, error) {
	return false, nil
}

func TestBorrow_LostStorageRaceIsConflict(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100})
	lending := store.Lending()
	svc := NewService(store.Books(), lending, lending, lostRaceLedger{lending}, nil)

	_, err := svc.Borrow(context.Background(), BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: 100})
	assertKind(t, err, model.KindConflict, model.ErrCodeBookCopyLent)
	assert.Equal(t, model.NoBorrower, borrowerOf(t, store, 5, 100))
}

func TestReturn_Errors(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100})
	svc := newService(store)
	ctx := context.Background()

	assertKind(t, svc.Return(ctx, 7, 5, 100), model.KindNotFound, model.ErrCodeLoanNotFound)
	assertKind(t, svc.Return(ctx, 7, 5, 999), model.KindNotFound, model.ErrCodeLoanNotFound)

	_, err := svc.Borrow(ctx, BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: 100})
	require.NoError(t, err)

	assertKind(t, svc.Return(ctx, 9, 5, 100), model.KindUnauthorized, model.ErrCodeNotCurrentBorrower)
	assertKind(t, svc.Return(ctx, 5, 5, 100), model.KindUnauthorized, model.ErrCodeNotCurrentBorrower)
	assert.Equal(t, int64(7), borrowerOf(t, store, 5, 100))
}

func TestReturn_MissingBorrowRecordIsConsistencyError(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100, BorrowerID: 7})
	svc := newService(store)

	err := svc.Return(context.Background(), 7, 5, 100)
	assertKind(t, err, model.KindConsistency, model.ErrCodeConsistencyViolation)
	assert.Equal(t, int64(7), borrowerOf(t, store, 5, 100))
}

func TestReturn_KeepsHistory(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100})
	svc := newService(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Borrow(ctx, BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: 100})
		require.NoError(t, err)
		require.NoError(t, svc.Return(ctx, 7, 5, 100))
	}

	active, err := svc.ListActiveBorrows(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := svc.ListBorrowHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, b := range history {
		assert.False(t, b.Active())
	}
}

func TestShelfOperations(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.AddCopy(ctx, 5, 1)
	assertKind(t, err, model.KindNotFound, model.ErrCodeBookNotFound)

	book, err := svc.RegisterBook(ctx, model.Book{Title: "Go言語", ISBN: "9784621300251"})
	require.NoError(t, err)

	c, err := svc.AddCopy(ctx, 5, book.ID)
	require.NoError(t, err)
	assert.True(t, c.Available())

	_, err = svc.AddCopy(ctx, 5, book.ID)
	assertKind(t, err, model.KindConflict, model.ErrCodeBookCopyExists)

	shelf, err := svc.ListShelf(ctx, 5)
	require.NoError(t, err)
	require.Len(t, shelf, 1)

	_, err = svc.Borrow(ctx, BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: book.ID})
	require.NoError(t, err)
	assertKind(t, svc.RemoveCopy(ctx, 5, book.ID), model.KindConflict, model.ErrCodeBookCopyLent)

	require.NoError(t, svc.Return(ctx, 7, 5, book.ID))
	require.NoError(t, svc.RemoveCopy(ctx, 5, book.ID))
	assertKind(t, svc.RemoveCopy(ctx, 5, book.ID), model.KindNotFound, model.ErrCodeBookCopyNotFound)
}

func TestRegisterBook_DeduplicatesByISBN(t *testing.T) {
	store := newStore(5, 6, 7, 9)
	svc := newService(store)
	ctx := context.Background()

	first, err := svc.RegisterBook(ctx, model.Book{Title: "A", ISBN: "4000000000"})
	require.NoError(t, err)
	second, err := svc.RegisterBook(ctx, model.Book{Title: "A (再登録)", ISBN: " 4000000000 "})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	noISBN1, err := svc.RegisterBook(ctx, model.Book{Title: "同人誌"})
	require.NoError(t, err)
	noISBN2, err := svc.RegisterBook(ctx, model.Book{Title: "同人誌"})
	require.NoError(t, err)
	assert.NotEqual(t, noISBN1.ID, noISBN2.ID)

	_, err = svc.RegisterBook(ctx, model.Book{Title: "  "})
	assertKind(t, err, model.KindValidation, model.ErrCodeInvalidRequest)

	got, err := svc.GetBook(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)
	_, err = svc.GetBook(ctx, 999)
	assertKind(t, err, model.KindNotFound, model.ErrCodeBookNotFound)
}

func TestBorrow_DeletedBorrowerLeavesCopyAvailable(t *testing.T) {
	store := newStore(5, 7)
	store.PutBookCopy(model.BookCopy{LenderID: 5, BookID: 100})
	svc := newService(store)
	ctx := context.Background()

	deleted, err := store.Users().DeleteCascade(ctx, 7, time.Now())
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = svc.Borrow(ctx, BorrowRequest{BorrowerID: 7, LenderID: 5, BookID: 100})
	assertKind(t, err, model.KindNotFound, model.ErrCodeUserNotFound)
	assert.Equal(t, model.NoBorrower, borrowerOf(t, store, 5, 100))

	active, err := store.Lending().FindActiveByCopy(ctx, 5, 100)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestAddCopy_DeletedLenderIsNotFound(t *testing.T) {
	store := newStore()
	svc := newService(store)
	ctx := context.Background()

	book, err := svc.RegisterBook(ctx, model.Book{Title: "Go言語"})
	require.NoError(t, err)

	_, err = svc.AddCopy(ctx, 5, book.ID)
	assertKind(t, err, model.KindNotFound, model.ErrCodeUserNotFound)
	shelf, err := svc.ListShelf(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, shelf)
}
