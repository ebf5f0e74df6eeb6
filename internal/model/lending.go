package model

import "time"

// Book は書籍の書誌情報を表す。本棚の1冊はBookを参照する。
type Book struct {
	ID           int64     `db:"book_id"`
	Title        string    `db:"title"`
	Author       string    `db:"author"`
	ISBN         string    `db:"isbn"`
	Manufacturer string    `db:"manufacturer"`
	CreatedAt    time.Time `db:"created_at"`
}

// NoBorrower は本が貸し出されていないことを表すborrower_idの値。
const NoBorrower int64 = 0

// BookCopy は貸し手の本棚にある物理的な1冊 (lender_id, book_id) を表す。
// BorrowerIDが0なら貸出可能、それ以外はそのユーザーに貸出中。
type BookCopy struct {
	LenderID   int64     `db:"user_id"`
	BookID     int64     `db:"book_id"`
	BorrowerID int64     `db:"borrower_id"`
	CreatedAt  time.Time `db:"created_at"`
}

// Available は本が貸出可能かどうかを返す。
func (c *BookCopy) Available() bool {
	return c.BorrowerID == NoBorrower
}

// Borrow は貸出台帳の1レコードを表す。
// ReturnedAtがnilのレコードが現在有効な貸出で、返却後も履歴として残る。
type Borrow struct {
	ID         int64      `db:"id"`
	UserID     int64      `db:"user_id"`
	BookID     int64      `db:"book_id"`
	LenderID   int64      `db:"lender_id"`
	DueDate    *time.Time `db:"due_date"`
	BorrowedAt time.Time  `db:"borrowed_at"`
	ReturnedAt *time.Time `db:"returned_at"`
}

// Active は貸出が返却されていないかどうかを返す。
func (b *Borrow) Active() bool {
	return b.ReturnedAt == nil
}
