package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/bookshare/internal/model"
)

// FriendService は友達ハンドラーが必要とするサービスインターフェース。
type FriendService interface {
	RequestFriend(ctx context.Context, actorID, friendID int64) error
	AcceptFriendRequest(ctx context.Context, actorID, requesterID int64) error
	RejectFriendRequest(ctx context.Context, actorID, requesterID int64) error
	Unfriend(ctx context.Context, actorID, friendID int64) error
	ListFriends(ctx context.Context, userID int64) ([]*model.User, error)
	ListIncomingRequests(ctx context.Context, userID int64) ([]*model.User, error)
	ListOutgoingRequests(ctx context.Context, userID int64) ([]*model.User, error)
}

// FriendHandler は友達関係のHTTPハンドラー。
type FriendHandler struct {
	service FriendService
}

// NewFriendHandler はFriendHandlerを生成する。
func NewFriendHandler(service FriendService) *FriendHandler {
	return &FriendHandler{service: service}
}

type friendRequest struct {
	FriendID int64 `json:"friend_id"`
}

// friendshipResponse は友達エッジの状態を表すレスポンス。
type friendshipResponse struct {
	UserID   int64 `json:"user_id"`
	FriendID int64 `json:"friend_id"`
	Accepted bool  `json:"accepted"`
}

// ListFriends は友達一覧を返す。
// GET /v1/users/{user_id}/friend
func (h *FriendHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, h.service.ListFriends)
}

// ListIncoming は自分宛ての友達申請の一覧を返す。
// GET /v1/users/{user_id}/friend/new
func (h *FriendHandler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, h.service.ListIncomingRequests)
}

// ListOutgoing は自分が申請中の相手の一覧を返す。
// GET /v1/users/{user_id}/friend/requested
func (h *FriendHandler) ListOutgoing(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, h.service.ListOutgoingRequests)
}

func (h *FriendHandler) listUsers(w http.ResponseWriter, r *http.Request, list func(context.Context, int64) ([]*model.User, error)) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	users, err := list(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponses(users))
}

// RequestFriend は友達申請を送る。
// POST /v1/users/{user_id}/friend
func (h *FriendHandler) RequestFriend(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req friendRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.FriendID <= 0 {
		handleServiceError(w, model.NewValidationError("friend_idは必須です"))
		return
	}

	if err := h.service.RequestFriend(r.Context(), actor, req.FriendID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, friendshipResponse{UserID: actor, FriendID: req.FriendID, Accepted: false})
}

// AcceptRequest はfriend_idからの申請を承認する。
// PUT /v1/users/{user_id}/friend/new/{friend_id}
func (h *FriendHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	actor, friendID, ok := h.pair(w, r)
	if !ok {
		return
	}

	if err := h.service.AcceptFriendRequest(r.Context(), actor, friendID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, friendshipResponse{UserID: actor, FriendID: friendID, Accepted: true})
}

// RejectRequest はfriend_idからの申請を拒否する。
// DELETE /v1/users/{user_id}/friend/new/{friend_id}
func (h *FriendHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	actor, friendID, ok := h.pair(w, r)
	if !ok {
		return
	}

	if err := h.service.RejectFriendRequest(r.Context(), actor, friendID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unfriend は友達関係を解消する。
// DELETE /v1/users/{user_id}/friend/{friend_id}
func (h *FriendHandler) Unfriend(w http.ResponseWriter, r *http.Request) {
	actor, friendID, ok := h.pair(w, r)
	if !ok {
		return
	}

	if err := h.service.Unfriend(r.Context(), actor, friendID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pair は操作ユーザーとパスのfriend_idを取得する。失敗時はエラーレスポンスを書き込む。
func (h *FriendHandler) pair(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return 0, 0, false
	}
	friendID, err := pathID(r, "friend_id")
	if err != nil {
		handleServiceError(w, err)
		return 0, 0, false
	}
	return actor, friendID, true
}
