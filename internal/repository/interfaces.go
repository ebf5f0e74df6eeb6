// Package repository はデータ永続化のインターフェースを定義する。
//
// FindBy系のメソッドは対象が存在しない場合にnil, nilを返す。
// 複数行にまたがる更新（Accept, DeleteMutual, Lend, Release, Append, DeleteCascade）は
// 実装側で1トランザクションとして原子的に実行しなければならない。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bookshare/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番したuser_idをuser.IDに設定する。
	// メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はプロフィールを部分更新する。nilフィールドは変更しない。
	// 更新後のユーザーを返し、存在しない場合はnilを返す。
	UpdateProfile(ctx context.Context, id int64, update model.ProfileUpdate) (*model.User, error)

	// DeleteCascade はユーザーと依存するデータを同一トランザクションで削除する。
	// 友達エッジ（両方向）を削除し、借りている本を貸し手の本棚に戻す。
	// 貸し手としての有効な貸出は返却済みにし、借り手としての貸出レコードは削除する。
	// そのうえで本棚、タイムライン、ユーザー行を削除する。ユーザーが存在しない場合はfalseを返す。
	DeleteCascade(ctx context.Context, id int64, at time.Time) (bool, error)
}

// FriendRepository は友達エッジの永続化インターフェース。
type FriendRepository interface {
	// FindEdge は有向エッジ (userID → friendID) を取得する。見つからない場合はnilを返す。
	FindEdge(ctx context.Context, userID, friendID int64) (*model.Friend, error)

	// CreateRequest は申請中エッジ (requesterID → targetID, accepted=false) を作成する。
	// 同じ有向ペアのエッジが既に存在する場合は何もせずfalseを返す。
	// どちらかのユーザーが存在しない場合はErrUserNotFoundを返す。
	CreateRequest(ctx context.Context, requesterID, targetID int64, at time.Time) (bool, error)

	// Accept は申請中エッジ (requesterID → accepterID) を承認済みにし、
	// 逆向きの承認済みエッジ (accepterID → requesterID) を作成する。
	// 逆向きに申請中エッジがある場合は承認済みに更新する。
	// 申請中エッジが存在しない場合は何もせずfalseを返す。
	Accept(ctx context.Context, requesterID, accepterID int64, at time.Time) (bool, error)

	// DeletePending は申請中エッジ (requesterID → accepterID) を削除する。
	// 存在しない場合はfalseを返す。
	DeletePending(ctx context.Context, requesterID, accepterID int64) (bool, error)

	// DeleteMutual は承認済みエッジを両方向とも削除する。
	// 2本とも削除できた場合のみコミットし、削除できた本数を返す。
	// 2未満の場合はロールバックされ、何も削除されない。
	DeleteMutual(ctx context.Context, userID, friendID int64) (int, error)

	// ListFriendIDs は (userID → x, accepted=true) となるxの一覧を昇順で返す。
	ListFriendIDs(ctx context.Context, userID int64) ([]int64, error)

	// ListRequesterIDs は (x → userID, accepted=false) となるxの一覧を昇順で返す。
	ListRequesterIDs(ctx context.Context, userID int64) ([]int64, error)

	// ListRequestedIDs は (userID → x, accepted=false) となるxの一覧を昇順で返す。
	ListRequestedIDs(ctx context.Context, userID int64) ([]int64, error)
}

// BookRepository は書誌情報の永続化インターフェース。
type BookRepository interface {
	// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Book, error)

	// FindByISBN はISBNで書籍を検索する。見つからない場合はnilを返す。
	FindByISBN(ctx context.Context, isbn string) (*model.Book, error)

	// Create は書籍を作成し、採番したbook_idをbook.IDに設定する。
	Create(ctx context.Context, book *model.Book) error
}

// BookshelfRepository は本棚（貸し手ごとの物理的な本）の永続化インターフェース。
type BookshelfRepository interface {
	// FindCopy は (lenderID, bookID) の本を取得する。見つからない場合はnilを返す。
	FindCopy(ctx context.Context, lenderID, bookID int64) (*model.BookCopy, error)

	// AddCopy は本棚に本を追加する。既に存在する場合はfalseを返す。
	// 貸し手が存在しない場合はErrUserNotFoundを返す。
	AddCopy(ctx context.Context, lenderID, bookID int64, at time.Time) (bool, error)

	// RemoveCopy は貸出中でない本を本棚から削除する。
	// 存在しないか貸出中の場合はfalseを返す。
	RemoveCopy(ctx context.Context, lenderID, bookID int64) (bool, error)

	// ListByLender は貸し手の本棚の一覧をbook_id昇順で返す。
	ListByLender(ctx context.Context, lenderID int64) ([]*model.BookCopy, error)
}

// BorrowRepository は貸出台帳の参照インターフェース。
type BorrowRepository interface {
	// FindActiveByBorrower は借り手がbookIDを貸し手に関係なく借りている有効な貸出を返す。
	// 見つからない場合はnilを返す。
	FindActiveByBorrower(ctx context.Context, borrowerID, bookID int64) (*model.Borrow, error)

	// FindActiveByCopy は本 (lenderID, bookID) に対する有効な貸出を返す。
	// 見つからない場合はnilを返す。
	FindActiveByCopy(ctx context.Context, lenderID, bookID int64) (*model.Borrow, error)

	// ListActiveByUser は借り手の有効な貸出を借りた順に返す。
	ListActiveByUser(ctx context.Context, userID int64) ([]*model.Borrow, error)

	// ListByUser は借り手の返却済みを含む全貸出を借りた順に返す。
	ListByUser(ctx context.Context, userID int64) ([]*model.Borrow, error)
}

// LedgerRepository は貸出・返却の状態遷移を原子的に行うインターフェース。
type LedgerRepository interface {
	// Lend は本のborrower_idが0の場合に限り、borrower_idをborrow.UserIDに設定し、
	// 貸出レコードを作成し、貸し手のlend_numと借り手のborrow_numを加算する。
	// これらは1トランザクションで行う。作成したレコードのIDはborrow.IDに設定する。
	// 本が存在しないか貸出中の場合は何もせずfalseを返す。
	// 借り手が同じ本を既に借りている場合はErrDuplicateを返す。
	// 借り手が存在しない場合は何もせずErrUserNotFoundを返す。
	// 借り手の存在確認は退会処理（DeleteCascade）と直列化される。
	Lend(ctx context.Context, borrow *model.Borrow) (bool, error)

	// Release は本のborrower_idがborrowerIDの場合に限り、有効な貸出を返却済みにし、
	// borrower_idを0に戻す。条件を満たさない場合は何もせずfalseを返す。
	Release(ctx context.Context, borrowerID, lenderID, bookID int64, at time.Time) (bool, error)
}

// TimelineRepository はタイムラインの永続化インターフェース。
type TimelineRepository interface {
	// Append はユーザー単位で直列化されたトランザクション内で、
	// 既存エントリを新しい順にcapacity-1件まで削減してからentryを挿入する。
	// 削除した件数を返す。entry.IDには採番した挿入順の連番を設定する。
	// ユーザーが存在しない場合はErrUserNotFoundを返す。
	Append(ctx context.Context, entry *model.TimelineEntry, capacity int) (int, error)

	// ListByUser はユーザーのエントリを新しい順に返す。
	ListByUser(ctx context.Context, userID int64) ([]*model.TimelineEntry, error)

	// CountByUser はユーザーのエントリ数を返す。
	CountByUser(ctx context.Context, userID int64) (int, error)
}

// AuditRepository は不変条件違反を検出するための参照インターフェース。
// 検出のみを行い、修復はしない。
type AuditRepository interface {
	// FindUnpairedFriendEdges は逆向きの承認済みエッジを持たない承認済みエッジを返す。
	FindUnpairedFriendEdges(ctx context.Context) ([]model.Friend, error)

	// FindUnmatchedLentCopies は貸出中なのに対応する有効な貸出レコードがない本を返す。
	FindUnmatchedLentCopies(ctx context.Context) ([]model.BookCopy, error)

	// FindOverfullTimelines はエントリ数がcapacityを超えているユーザーIDを返す。
	FindOverfullTimelines(ctx context.Context, capacity int) ([]int64, error)
}
