// Package memstore はrepositoryパッケージの各インターフェースをメモリ上で実装する。
//
// すべてのビューは1つのStoreとミューテックスを共有するため、
// 複数の表にまたがる更新（Lend, Release, DeleteCascadeなど）も原子的に行われる。
// STORE_DRIVER=memory での起動とテストで使用する。
package memstore

import (
	"fmt"
	"sync"

	"github.com/hitoshi/bookshare/internal/model"
)

type edgeKey struct {
	from, to int64
}

type copyKey struct {
	lender, book int64
}

// Store はインメモリのデータストア。
type Store struct {
	mu sync.Mutex

	nextUserID     int64
	nextBookID     int64
	nextBorrowID   int64
	nextTimelineID int64

	users     map[int64]*model.User
	friends   map[edgeKey]*model.Friend
	books     map[int64]*model.Book
	shelves   map[copyKey]*model.BookCopy
	borrows   []*model.Borrow
	timelines map[int64][]*model.TimelineEntry
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		users:     make(map[int64]*model.User),
		friends:   make(map[edgeKey]*model.Friend),
		books:     make(map[int64]*model.Book),
		shelves:   make(map[copyKey]*model.BookCopy),
		timelines: make(map[int64][]*model.TimelineEntry),
	}
}

// Users はUserRepositoryとしてのビューを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Friends はFriendRepositoryとしてのビューを返す。
func (s *Store) Friends() *FriendRepo { return &FriendRepo{s: s} }

// Books はBookRepositoryとしてのビューを返す。
func (s *Store) Books() *BookRepo { return &BookRepo{s: s} }

// Lending はBookshelf/Borrow/LedgerRepositoryとしてのビューを返す。
func (s *Store) Lending() *LendingRepo { return &LendingRepo{s: s} }

// Timelines はTimelineRepositoryとしてのビューを返す。
func (s *Store) Timelines() *TimelineRepo { return &TimelineRepo{s: s} }

// Audit はAuditRepositoryとしてのビューを返す。
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }

// hasUser はユーザーが存在するかを返す。呼び出し側でmuを保持していること。
// PostgreSQLの外部キー制約に相当する検査に使う。
func (s *Store) hasUser(id int64) bool {
	_, ok := s.users[id]
	return ok
}

// PutUsers は指定IDの最小限のユーザーを検証なしで書き込む。
// 採番は書き込んだ最大のIDの次から続く。
func (s *Store) PutUsers(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.users[id] = &model.User{
			ID:             id,
			Email:          fmt.Sprintf("user%d@example.com", id),
			InvitationCode: fmt.Sprintf("seed-%d", id),
		}
		if id > s.nextUserID {
			s.nextUserID = id
		}
	}
}

// PutFriendEdge は友達エッジを検証なしで書き込む。
// 不整合なデータを再現するテストのために用意している。
func (s *Store) PutFriendEdge(edge model.Friend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := edge
	s.friends[edgeKey{edge.UserID, edge.FriendID}] = &e
}

// PutBookCopy は本棚の本を検証なしで書き込む。
func (s *Store) PutBookCopy(c model.BookCopy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.shelves[copyKey{c.LenderID, c.BookID}] = &cp
}

// PutTimelineEntry はタイムラインに容量制限なしでエントリを追加する。
func (s *Store) PutTimelineEntry(entry model.TimelineEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTimelineID++
	e := entry
	e.ID = s.nextTimelineID
	s.timelines[e.UserID] = append(s.timelines[e.UserID], &e)
}
