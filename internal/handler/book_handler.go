package handler

import (
	"context"
	"iter"
	"net/http"
	"strconv"

	"github.com/hitoshi/bookshare/internal/model"
)

const (
	// defaultSearchLimit はカタログ検索で返す件数のデフォルト値。
	defaultSearchLimit = 20
	// maxSearchLimit はカタログ検索で返す件数の上限。
	maxSearchLimit = 100
)

// BookService は書籍ハンドラーが必要とするサービスインターフェース。
type BookService interface {
	RegisterBook(ctx context.Context, book model.Book) (*model.Book, error)
	GetBook(ctx context.Context, bookID int64) (*model.Book, error)
	SearchCatalog(ctx context.Context, title string) iter.Seq2[model.CatalogBook, error]
}

// BookHandler は書誌情報とカタログ検索のHTTPハンドラー。
type BookHandler struct {
	service BookService
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookService) *BookHandler {
	return &BookHandler{service: service}
}

type registerBookRequest struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	ISBN         string `json:"isbn"`
	Manufacturer string `json:"manufacturer"`
}

// RegisterBook は書誌情報を登録する。ISBNが一致する書籍が既にあればそれを返す。
// POST /v1/books
func (h *BookHandler) RegisterBook(w http.ResponseWriter, r *http.Request) {
	var req registerBookRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	book, err := h.service.RegisterBook(r.Context(), model.Book{
		Title:        req.Title,
		Author:       req.Author,
		ISBN:         req.ISBN,
		Manufacturer: req.Manufacturer,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookResponse(book))
}

// GetBook は書誌情報を取得する。
// GET /v1/books/{book_id}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "book_id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), bookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// Search は外部カタログをタイトルで検索する。
// limit件に達した時点で打ち切るため、それ以降のページは取得しない。
// GET /v1/books/search?title=...&limit=...
func (h *BookHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchLimit {
			handleServiceError(w, model.NewValidationError("limitは1から100の整数で指定してください"))
			return
		}
		limit = n
	}

	results := make([]catalogBookResponse, 0, limit)
	for book, err := range h.service.SearchCatalog(r.Context(), r.URL.Query().Get("title")) {
		if err != nil {
			handleServiceError(w, err)
			return
		}
		results = append(results, catalogBookResponse{
			Title:        book.Title,
			Author:       book.Author,
			ISBN:         book.ISBN,
			Manufacturer: book.Manufacturer,
		})
		if len(results) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, results)
}
