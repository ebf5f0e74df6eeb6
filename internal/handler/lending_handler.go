package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/bookshare/internal/domain"
	"github.com/hitoshi/bookshare/internal/model"
)

// LendingService は貸出・本棚ハンドラーが必要とするサービスインターフェース。
type LendingService interface {
	Borrow(ctx context.Context, req domain.BorrowRequest) (*model.Borrow, error)
	Return(ctx context.Context, actorID, lenderID, bookID int64) error
	ListActiveBorrows(ctx context.Context, userID int64) ([]*model.Borrow, error)
	ListBorrowHistory(ctx context.Context, userID int64) ([]*model.Borrow, error)
	AddToShelf(ctx context.Context, actorID, bookID int64) (*model.BookCopy, error)
	RemoveFromShelf(ctx context.Context, actorID, bookID int64) error
	ListShelf(ctx context.Context, userID int64) ([]*model.BookCopy, error)
}

// LendingHandler は貸出と本棚のHTTPハンドラー。
type LendingHandler struct {
	service LendingService
}

// NewLendingHandler はLendingHandlerを生成する。
func NewLendingHandler(service LendingService) *LendingHandler {
	return &LendingHandler{service: service}
}

type borrowRequest struct {
	BookID   int64  `json:"book_id"`
	LenderID int64  `json:"lender_id"`
	DueDate  string `json:"due_date"`
}

type shelfRequest struct {
	BookID int64 `json:"book_id"`
}

// ListBorrows は借りている本の一覧を返す。
// include_returned=trueの場合は返却済みを含む履歴を返す。
// GET /v1/users/{user_id}/borrow
func (h *LendingHandler) ListBorrows(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	list := h.service.ListActiveBorrows
	if r.URL.Query().Get("include_returned") == "true" {
		list = h.service.ListBorrowHistory
	}

	borrows, err := list(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(borrows, toBorrowResponse))
}

// Borrow は本を借りる。
// POST /v1/users/{user_id}/borrow
func (h *LendingHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.BookID <= 0 || req.LenderID <= 0 {
		handleServiceError(w, model.NewValidationError("book_idとlender_idは必須です"))
		return
	}
	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	borrow, err := h.service.Borrow(r.Context(), domain.BorrowRequest{
		BorrowerID: actor,
		LenderID:   req.LenderID,
		BookID:     req.BookID,
		DueDate:    dueDate,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBorrowResponse(borrow))
}

// Return は借りている本を返却する。
// DELETE /v1/users/{user_id}/borrow/{lender_id}/{book_id}
func (h *LendingHandler) Return(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	lenderID, err := pathID(r, "lender_id")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	bookID, err := pathID(r, "book_id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.Return(r.Context(), actor, lenderID, bookID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListShelf は本棚の一覧を返す。
// GET /v1/users/{user_id}/bookshelf
func (h *LendingHandler) ListShelf(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	copies, err := h.service.ListShelf(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(copies, toBookCopyResponse))
}

// AddToShelf は本棚に本を追加する。
// POST /v1/users/{user_id}/bookshelf
func (h *LendingHandler) AddToShelf(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req shelfRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.BookID <= 0 {
		handleServiceError(w, model.NewValidationError("book_idは必須です"))
		return
	}

	c, err := h.service.AddToShelf(r.Context(), actor, req.BookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookCopyResponse(c))
}

// RemoveFromShelf は本棚から本を削除する。
// DELETE /v1/users/{user_id}/bookshelf/{book_id}
func (h *LendingHandler) RemoveFromShelf(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	bookID, err := pathID(r, "book_id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.RemoveFromShelf(r.Context(), actor, bookID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseDueDate は返却期限をRFC3339または日付（YYYY-MM-DD）として解析する。空の場合はnilを返す。
func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, model.NewValidationError("due_dateはRFC3339またはYYYY-MM-DD形式で指定してください")
}
