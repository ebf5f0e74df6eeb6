// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの種別を表す。APIレイヤーはこの種別でステータスコードを決定する。
type ErrorKind string

const (
	// KindNotFound は参照先（ユーザー、エッジ、貸出）が存在しないことを表す。
	KindNotFound ErrorKind = "not_found"
	// KindConflict は操作を行うと不変条件が崩れることを表す。
	KindConflict ErrorKind = "conflict"
	// KindUnauthorized は呼び出し元が操作の主体ではないことを表す。
	KindUnauthorized ErrorKind = "unauthorized"
	// KindValidation は入力値が不正であることを表す。
	KindValidation ErrorKind = "validation"
	// KindConsistency は不変条件が既に崩れていることを表す。自動修復せず運用者に通知する。
	KindConsistency ErrorKind = "consistency"
	// KindExternal は外部サービス（書籍カタログ）の障害を表す。
	KindExternal ErrorKind = "external"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // エラー種別
	Code     string    // 安定したエラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, friend, lending, timeline, catalog, system
	Action   string    // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// KindOf はerrチェーン中のAPIErrorの種別を返す。APIErrorでない場合は空文字を返す。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind はerrが指定種別のAPIErrorかどうかを返す。
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeForbiddenActor        = "FORBIDDEN_ACTOR"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeUserAlreadyExists     = "USER_ALREADY_EXISTS"
	ErrCodeFriendSelf            = "FRIEND_SELF"
	ErrCodeFriendRequestExists   = "FRIEND_REQUEST_EXISTS"
	ErrCodeFriendRequestNotFound = "FRIEND_REQUEST_NOT_FOUND"
	ErrCodeNotRequestTarget      = "NOT_REQUEST_TARGET"
	ErrCodeFriendshipNotFound    = "FRIENDSHIP_NOT_FOUND"
	ErrCodeBookNotFound          = "BOOK_NOT_FOUND"
	ErrCodeBookCopyNotFound      = "BOOK_COPY_NOT_FOUND"
	ErrCodeBookCopyExists        = "BOOK_COPY_EXISTS"
	ErrCodeBookCopyLent          = "BOOK_COPY_LENT"
	ErrCodeOwnBookCopy           = "OWN_BOOK_COPY"
	ErrCodeAlreadyBorrowing      = "ALREADY_BORROWING"
	ErrCodeLoanNotFound          = "LOAN_NOT_FOUND"
	ErrCodeNotCurrentBorrower    = "NOT_CURRENT_BORROWER"
	ErrCodeConsistencyViolation  = "CONSISTENCY_VIOLATION"
	ErrCodeCatalogUnavailable    = "CATALOG_UNAVAILABLE"
)

// NewValidationError は入力値エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthenticatedError はトークン未指定・無効時のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。トークンが無効か期限切れです。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが一致しない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewForbiddenActorError は他ユーザーのリソースを操作しようとした場合のエラーを生成する。
func NewForbiddenActorError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeForbiddenActor,
		Message:  "他のユーザーのリソースは操作できません。",
		Category: "auth",
		Action:   "自分のユーザーIDを指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID int64) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定したユーザーが見つかりません: %d", userID),
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewUserAlreadyExistsError は登録済みメールアドレスでの登録エラーを生成する。
func NewUserAlreadyExistsError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeUserAlreadyExists,
		Message:  "すでに登録されているメールアドレスです。",
		Category: "auth",
		Action:   "別のメールアドレスで登録してください。",
	}
}

// NewFriendSelfError は自分自身への友達申請エラーを生成する。
func NewFriendSelfError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeFriendSelf,
		Message:  "自分自身に友達申請はできません。",
		Category: "friend",
		Action:   "別のユーザーを指定してください。",
	}
}

// NewFriendRequestExistsError は重複した友達申請のエラーを生成する。
func NewFriendRequestExistsError(friendID int64) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeFriendRequestExists,
		Message:  fmt.Sprintf("すでに登録されている友達です: %d", friendID),
		Category: "friend",
		Action:   "友達一覧または申請中の一覧を確認してください。",
	}
}

// NewFriendRequestNotFoundError は友達申請が存在しない場合のエラーを生成する。
func NewFriendRequestNotFoundError(requesterID int64) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeFriendRequestNotFound,
		Message:  fmt.Sprintf("存在しない友達申請です: %d", requesterID),
		Category: "friend",
		Action:   "申請一覧を確認してください。",
	}
}

// NewNotRequestTargetError は申請者自身が承認・拒否しようとした場合のエラーを生成する。
func NewNotRequestTargetError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeNotRequestTarget,
		Message:  "友達申請の承認・拒否は申請を受けたユーザーのみ行えます。",
		Category: "friend",
		Action:   "相手の承認を待ってください。",
	}
}

// NewFriendshipNotFoundError は友達関係が存在しない場合のエラーを生成する。
func NewFriendshipNotFoundError(friendID int64) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeFriendshipNotFound,
		Message:  fmt.Sprintf("存在しない友達です: %d", friendID),
		Category: "friend",
		Action:   "友達一覧を確認してください。",
	}
}

// NewBookNotFoundError は書籍が存在しない場合のエラーを生成する。
func NewBookNotFoundError(bookID int64) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("指定された書籍が見つかりません: %d", bookID),
		Category: "lending",
		Action:   "書籍IDを確認してください。",
	}
}

// NewBookCopyNotFoundError は本棚に該当する本がない場合のエラーを生成する。
func NewBookCopyNotFoundError(lenderID, bookID int64) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeBookCopyNotFound,
		Message:  fmt.Sprintf("存在しない本を借りようとしています: lender=%d book=%d", lenderID, bookID),
		Category: "lending",
		Action:   "貸し手の本棚を確認してください。",
	}
}

// NewBookCopyExistsError は本棚に同じ本を重複登録しようとした場合のエラーを生成する。
func NewBookCopyExistsError(bookID int64) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeBookCopyExists,
		Message:  fmt.Sprintf("この本はすでに本棚に登録されています: %d", bookID),
		Category: "lending",
		Action:   "本棚を確認してください。",
	}
}

// NewBookCopyLentError は貸出中の本に対する操作のエラーを生成する。
func NewBookCopyLentError(lenderID, bookID int64) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeBookCopyLent,
		Message:  fmt.Sprintf("すでに借りられている本です: lender=%d book=%d", lenderID, bookID),
		Category: "lending",
		Action:   "返却されるまでお待ちください。",
	}
}

// NewOwnBookCopyError は自分の本を借りようとした場合のエラーを生成する。
func NewOwnBookCopyError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeOwnBookCopy,
		Message:  "自分の本は借りられません。",
		Category: "lending",
		Action:   "貸し手を確認してください。",
	}
}

// NewAlreadyBorrowingError は同じ本を二重に借りようとした場合のエラーを生成する。
func NewAlreadyBorrowingError(bookID int64) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeAlreadyBorrowing,
		Message:  fmt.Sprintf("すでに借りている本を借りようとしています: %d", bookID),
		Category: "lending",
		Action:   "借りている本を返却してから再度お試しください。",
	}
}

// NewLoanNotFoundError は返却対象の貸出が存在しない場合のエラーを生成する。
func NewLoanNotFoundError(lenderID, bookID int64) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeLoanNotFound,
		Message:  fmt.Sprintf("該当する貸出がありません: lender=%d book=%d", lenderID, bookID),
		Category: "lending",
		Action:   "借りている本の一覧を確認してください。",
	}
}

// NewNotCurrentBorrowerError は借り手以外が返却しようとした場合のエラーを生成する。
func NewNotCurrentBorrowerError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeNotCurrentBorrower,
		Message:  "返却は現在の借り手のみ行えます。",
		Category: "lending",
		Action:   "借りている本の一覧を確認してください。",
	}
}

// NewConsistencyError は不変条件違反を検出した場合のエラーを生成する。
// detailはログ・運用者向けの説明。
func NewConsistencyError(detail string) *APIError {
	return &APIError{
		Kind:     KindConsistency,
		Code:     ErrCodeConsistencyViolation,
		Message:  fmt.Sprintf("データの整合性が崩れています: %s", detail),
		Category: "system",
		Action:   "管理者に連絡してください。",
	}
}

// NewCatalogUnavailableError は書籍カタログ検索の失敗を生成する。
func NewCatalogUnavailableError(reason string) *APIError {
	return &APIError{
		Kind:     KindExternal,
		Code:     ErrCodeCatalogUnavailable,
		Message:  fmt.Sprintf("書籍検索サービスの呼び出しに失敗しました: %s", reason),
		Category: "catalog",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
