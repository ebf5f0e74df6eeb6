// Package keylock はキー単位の排他ロックを提供する。
//
// 同じキーに対する処理は直列化され、異なるキーの処理は並行に実行される。
// 使われなくなったキーのエントリは参照カウントが0になった時点で破棄される。
package keylock

import (
	"slices"
	"strconv"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker はキーごとのミューテックスを管理する。ゼロ値は使用できない。
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New は新しいLockerを生成する。
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock は指定キーをすべてロックし、解除関数を返す。
// 複数キーは常に辞書順で取得するため、呼び出し側の指定順によるデッドロックは起きない。
// 重複したキーは1回だけロックする。
func (l *Locker) Lock(keys ...string) (unlock func()) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	acquired := make([]*entry, 0, len(sorted))
	for _, key := range sorted {
		e := l.acquire(key)
		e.mu.Lock()
		acquired = append(acquired, e)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(acquired) - 1; i >= 0; i-- {
				acquired[i].mu.Unlock()
				l.release(sorted[i])
			}
		})
	}
}

// Len は現在保持しているキーの数を返す。テスト用。
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// CopyKey は本棚の1冊 (lenderID, bookID) のキーを返す。
func CopyKey(lenderID, bookID int64) string {
	return "copy:" + strconv.FormatInt(lenderID, 10) + ":" + strconv.FormatInt(bookID, 10)
}

// PairKey は2ユーザー間の関係のキーを返す。引数の順序に依存しない。
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return "pair:" + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

// UserKey はユーザー単位のキーを返す。
func UserKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// BorrowerBookKey は借り手×書籍のキーを返す。
// 同じ書籍の別の本を同時に借りる操作を直列化するために使う。
func BorrowerBookKey(borrowerID, bookID int64) string {
	return "borrower:" + strconv.FormatInt(borrowerID, 10) + ":" + strconv.FormatInt(bookID, 10)
}
