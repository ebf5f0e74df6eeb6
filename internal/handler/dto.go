package handler

import (
	"encoding/json"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス。
// email、invitation_codeは本人にのみ返す。
type userResponse struct {
	ID             int64     `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	FirstName      string    `json:"firstname"`
	LastName       string    `json:"lastname"`
	School         string    `json:"school"`
	LendNum        int       `json:"lend_num"`
	BorrowNum      int       `json:"borrow_num"`
	InvitationCode string    `json:"invitation_code,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toUserResponse(u *model.User, self bool) userResponse {
	resp := userResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		School:    u.School,
		LendNum:   u.LendNum,
		BorrowNum: u.BorrowNum,
		CreatedAt: u.CreatedAt,
	}
	if self {
		resp.Email = u.Email
		resp.InvitationCode = u.InvitationCode
	}
	return resp
}

func toUserResponses(users []*model.User) []userResponse {
	results := make([]userResponse, len(users))
	for i, u := range users {
		results[i] = toUserResponse(u, false)
	}
	return results
}

// authResponse は登録・ログイン時のレスポンス。
type authResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

// bookResponse は書誌情報のAPIレスポンス。
type bookResponse struct {
	ID           int64  `json:"book_id"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	ISBN         string `json:"isbn"`
	Manufacturer string `json:"manufacturer"`
}

func toBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		ISBN:         b.ISBN,
		Manufacturer: b.Manufacturer,
	}
}

// bookCopyResponse は本棚の1冊のAPIレスポンス。
type bookCopyResponse struct {
	LenderID   int64     `json:"user_id"`
	BookID     int64     `json:"book_id"`
	BorrowerID int64     `json:"borrower_id"`
	Available  bool      `json:"available"`
	CreatedAt  time.Time `json:"created_at"`
}

func toBookCopyResponse(c *model.BookCopy) bookCopyResponse {
	return bookCopyResponse{
		LenderID:   c.LenderID,
		BookID:     c.BookID,
		BorrowerID: c.BorrowerID,
		Available:  c.Available(),
		CreatedAt:  c.CreatedAt,
	}
}

// borrowResponse は貸出レコードのAPIレスポンス。
type borrowResponse struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	BookID     int64      `json:"book_id"`
	LenderID   int64      `json:"lender_id"`
	DueDate    *time.Time `json:"due_date"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	ReturnedAt *time.Time `json:"returned_at"`
}

func toBorrowResponse(b *model.Borrow) borrowResponse {
	return borrowResponse{
		ID:         b.ID,
		UserID:     b.UserID,
		BookID:     b.BookID,
		LenderID:   b.LenderID,
		DueDate:    b.DueDate,
		BorrowedAt: b.BorrowedAt,
		ReturnedAt: b.ReturnedAt,
	}
}

// timelineEntryResponse はタイムラインエントリのAPIレスポンス。
type timelineEntryResponse struct {
	ID        int64               `json:"id"`
	Type      string              `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time           `json:"created_at"`
}

func toTimelineEntryResponse(e *model.TimelineEntry) timelineEntryResponse {
	data := json.RawMessage(e.Data)
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return timelineEntryResponse{
		ID:        e.ID,
		Type:      string(e.Type),
		Data:      data,
		CreatedAt: e.CreatedAt,
	}
}

// catalogBookResponse はカタログ検索結果のAPIレスポンス。
type catalogBookResponse struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	ISBN         string `json:"isbn"`
	Manufacturer string `json:"manufacturer"`
}

func mapSlice[T, R any](items []T, f func(T) R) []R {
	results := make([]R, len(items))
	for i, item := range items {
		results[i] = f(item)
	}
	return results
}
