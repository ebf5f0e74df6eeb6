// Package lending は本棚と貸出台帳のドメインロジックを提供する。
//
// 本棚の1冊 (lender_id, book_id) は borrower_id = 0 の貸出可能状態と
// borrower_id = X の貸出中状態の間だけを遷移する。
// 貸出は現在の借り手がいない場合のみ、返却は現在の借り手のみが行える。
package lending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/bookshare/internal/keylock"
	"github.com/hitoshi/bookshare/internal/model"
	"github.com/hitoshi/bookshare/internal/repository"
)

// BorrowRequest は貸出リクエストを表す。
type BorrowRequest struct {
	BorrowerID int64
	LenderID   int64
	BookID     int64
	DueDate    *time.Time
}

// Service は貸出台帳のサービス層。
type Service struct {
	bookRepo   repository.BookRepository
	shelfRepo  repository.BookshelfRepository
	borrowRepo repository.BorrowRepository
	ledgerRepo repository.LedgerRepository
	locks      *keylock.Locker
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// locksがnilの場合は専用のLockerを生成する。
func NewService(
	bookRepo repository.BookRepository,
	shelfRepo repository.BookshelfRepository,
	borrowRepo repository.BorrowRepository,
	ledgerRepo repository.LedgerRepository,
	locks *keylock.Locker,
) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{
		bookRepo:   bookRepo,
		shelfRepo:  shelfRepo,
		borrowRepo: borrowRepo,
		ledgerRepo: ledgerRepo,
		locks:      locks,
		now:        time.Now,
	}
}

// Borrow は本を借りる。
// 借り手が同じ書籍を既に借りている場合、本が存在しない場合、貸出中の場合、
// 借り手が退会済みの場合はエラーを返す。
// 同じ本への同時貸出は1件だけが成功する。
func (s *Service) Borrow(ctx context.Context, req BorrowRequest) (*model.Borrow, error) {
	if req.BorrowerID == req.LenderID {
		return nil, model.NewOwnBookCopyError()
	}

	unlock := s.locks.Lock(
		keylock.CopyKey(req.LenderID, req.BookID),
		keylock.BorrowerBookKey(req.BorrowerID, req.BookID),
	)
	defer unlock()

	active, err := s.borrowRepo.FindActiveByBorrower(ctx, req.BorrowerID, req.BookID)
	if err != nil {
		return nil, fmt.Errorf("貸出状況の取得に失敗しました: %w", err)
	}
	if active != nil {
		return nil, model.NewAlreadyBorrowingError(req.BookID)
	}

	bookCopy, err := s.shelfRepo.FindCopy(ctx, req.LenderID, req.BookID)
	if err != nil {
		return nil, fmt.Errorf("本棚の本の取得に失敗しました: %w", err)
	}
	if bookCopy == nil {
		return nil, model.NewBookCopyNotFoundError(req.LenderID, req.BookID)
	}
	if !bookCopy.Available() {
		return nil, model.NewBookCopyLentError(req.LenderID, req.BookID)
	}

	borrow := &model.Borrow{
		UserID:     req.BorrowerID,
		BookID:     req.BookID,
		LenderID:   req.LenderID,
		DueDate:    req.DueDate,
		BorrowedAt: s.now(),
	}
	ok, err := s.ledgerRepo.Lend(ctx, borrow)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewAlreadyBorrowingError(req.BookID)
	}
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, model.NewUserNotFoundError(req.BorrowerID)
	}
	if err != nil {
		return nil, fmt.Errorf("貸出処理に失敗しました: %w", err)
	}
	if !ok {
		// 他プロセスとの競合に負けた
		return nil, model.NewBookCopyLentError(req.LenderID, req.BookID)
	}
	return borrow, nil
}

// Return は本を返却する。現在の借り手以外は返却できない。
func (s *Service) Return(ctx context.Context, borrowerID, lenderID, bookID int64) error {
	unlock := s.locks.Lock(keylock.CopyKey(lenderID, bookID))
	defer unlock()

	bookCopy, err := s.shelfRepo.FindCopy(ctx, lenderID, bookID)
	if err != nil {
		return fmt.Errorf("本棚の本の取得に失敗しました: %w", err)
	}
	if bookCopy == nil || bookCopy.Available() {
		return model.NewLoanNotFoundError(lenderID, bookID)
	}
	if bookCopy.BorrowerID != borrowerID {
		return model.NewNotCurrentBorrowerError()
	}

	ok, err := s.ledgerRepo.Release(ctx, borrowerID, lenderID, bookID, s.now())
	if errors.Is(err, repository.ErrInconsistent) {
		return model.NewConsistencyError(fmt.Sprintf(
			"貸出中の本に対応する貸出レコードがありません: lender=%d book=%d borrower=%d",
			lenderID, bookID, borrowerID))
	}
	if err != nil {
		return fmt.Errorf("返却処理に失敗しました: %w", err)
	}
	if !ok {
		return model.NewLoanNotFoundError(lenderID, bookID)
	}
	return nil
}

// ListActiveBorrows はユーザーが借りている本の貸出レコードを返す。
func (s *Service) ListActiveBorrows(ctx context.Context, userID int64) ([]*model.Borrow, error) {
	borrows, err := s.borrowRepo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}
	return borrows, nil
}

// ListBorrowHistory はユーザーの返却済みを含む貸出レコードを返す。
func (s *Service) ListBorrowHistory(ctx context.Context, userID int64) ([]*model.Borrow, error) {
	borrows, err := s.borrowRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("貸出履歴の取得に失敗しました: %w", err)
	}
	return borrows, nil
}

// AddCopy は貸し手の本棚に本を追加する。
func (s *Service) AddCopy(ctx context.Context, lenderID, bookID int64) (*model.BookCopy, error) {
	book, err := s.bookRepo.FindByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(bookID)
	}

	unlock := s.locks.Lock(keylock.CopyKey(lenderID, bookID))
	defer unlock()

	now := s.now()
	created, err := s.shelfRepo.AddCopy(ctx, lenderID, bookID, now)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, model.NewUserNotFoundError(lenderID)
	}
	if err != nil {
		return nil, fmt.Errorf("本棚への追加に失敗しました: %w", err)
	}
	if !created {
		return nil, model.NewBookCopyExistsError(bookID)
	}
	return &model.BookCopy{LenderID: lenderID, BookID: bookID, BorrowerID: model.NoBorrower, CreatedAt: now}, nil
}

// RemoveCopy は貸出中でない本を本棚から削除する。
func (s *Service) RemoveCopy(ctx context.Context, lenderID, bookID int64) error {
	unlock := s.locks.Lock(keylock.CopyKey(lenderID, bookID))
	defer unlock()

	bookCopy, err := s.shelfRepo.FindCopy(ctx, lenderID, bookID)
	if err != nil {
		return fmt.Errorf("本棚の本の取得に失敗しました: %w", err)
	}
	if bookCopy == nil {
		return model.NewBookCopyNotFoundError(lenderID, bookID)
	}
	if !bookCopy.Available() {
		return model.NewBookCopyLentError(lenderID, bookID)
	}

	removed, err := s.shelfRepo.RemoveCopy(ctx, lenderID, bookID)
	if err != nil {
		return fmt.Errorf("本棚からの削除に失敗しました: %w", err)
	}
	if !removed {
		return model.NewBookCopyLentError(lenderID, bookID)
	}
	return nil
}

// ListShelf は貸し手の本棚をbook_id昇順で返す。
func (s *Service) ListShelf(ctx context.Context, lenderID int64) ([]*model.BookCopy, error) {
	copies, err := s.shelfRepo.ListByLender(ctx, lenderID)
	if err != nil {
		return nil, fmt.Errorf("本棚一覧の取得に失敗しました: %w", err)
	}
	return copies, nil
}

// RegisterBook は書誌情報を登録する。ISBNが登録済みの場合は既存の書籍を返す。
func (s *Service) RegisterBook(ctx context.Context, book model.Book) (*model.Book, error) {
	book.Title = strings.TrimSpace(book.Title)
	book.ISBN = strings.TrimSpace(book.ISBN)
	if book.Title == "" {
		return nil, model.NewValidationError("titleは必須です")
	}

	if book.ISBN != "" {
		existing, err := s.bookRepo.FindByISBN(ctx, book.ISBN)
		if err != nil {
			return nil, fmt.Errorf("書籍の検索に失敗しました: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	book.CreatedAt = s.now()
	err := s.bookRepo.Create(ctx, &book)
	if errors.Is(err, repository.ErrDuplicate) {
		// 同時登録された場合は先に登録された書籍を返す
		existing, findErr := s.bookRepo.FindByISBN(ctx, book.ISBN)
		if findErr != nil {
			return nil, fmt.Errorf("書籍の検索に失敗しました: %w", findErr)
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("書籍の登録に失敗しました: %w", err)
	}
	return &book, nil
}

// GetBook は書籍を取得する。
func (s *Service) GetBook(ctx context.Context, bookID int64) (*model.Book, error) {
	book, err := s.bookRepo.FindByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(bookID)
	}
	return book, nil
}
