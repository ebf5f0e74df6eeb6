package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrDuplicate はユニーク制約に違反する行を作成しようとしたことを表す。
var ErrDuplicate = errors.New("duplicate record")

// uniqueViolation はPostgreSQLのunique_violationのSQLSTATE。
const uniqueViolation = "23505"

// isUniqueViolation はerrがユニーク制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// ErrInconsistent は原子的な更新の途中で不変条件違反を検出し、ロールバックしたことを表す。
var ErrInconsistent = errors.New("inconsistent ledger state")

// ErrUserNotFound は書き込み対象の行が参照するユーザーが存在しない（退会済みを含む）ことを表す。
var ErrUserNotFound = errors.New("referenced user not found")

// foreignKeyViolation はPostgreSQLのforeign_key_violationのSQLSTATE。
const foreignKeyViolation = "23503"

// isForeignKeyViolation はerrが外部キー制約違反かどうかを返す。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == foreignKeyViolation
	}
	return false
}
