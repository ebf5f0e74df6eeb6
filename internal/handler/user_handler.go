package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/bookshare/internal/domain"
	"github.com/hitoshi/bookshare/internal/model"
)

// UserService はユーザーハンドラーが必要とするサービスインターフェース。
type UserService interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*model.User, error)
	Login(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	UpdateProfile(ctx context.Context, actorID int64, req domain.UpdateProfileRequest) (*model.User, error)
	DeleteUser(ctx context.Context, actorID int64) error
}

// TokenIssuer はユーザーIDに対するアクセストークンを発行する。
type TokenIssuer interface {
	Issue(userID int64) (string, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserService
	tokens  TokenIssuer
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserService, tokens TokenIssuer) *UserHandler {
	return &UserHandler{service: service, tokens: tokens}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	School    string `json:"school"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateProfileRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"firstname"`
	LastName  *string `json:"lastname"`
	School    *string `json:"school"`
}

// Register はユーザーを登録し、アクセストークンを返す。
// POST /v1/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	u, err := h.service.Register(r.Context(), domain.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		School:    req.School,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.writeAuthResponse(w, http.StatusCreated, u)
}

// Login はメールアドレスとパスワードでアクセストークンを発行する。
// POST /v1/sessions
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	u, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.writeAuthResponse(w, http.StatusOK, u)
}

func (h *UserHandler) writeAuthResponse(w http.ResponseWriter, statusCode int, u *model.User) {
	token, err := h.tokens.Issue(u.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, statusCode, authResponse{User: toUserResponse(u, true), Token: token})
}

// GetUser はユーザー情報を取得する。本人の場合はメールアドレスも含める。
// GET /v1/users/{user_id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u, u.ID == actor))
}

// UpdateProfile は本人のプロフィールを更新する。
// PUT /v1/users/{user_id}
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), actor, domain.UpdateProfileRequest{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		School:    req.School,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u, true))
}

// DeleteUser は本人を退会させる。
// DELETE /v1/users/{user_id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.DeleteUser(r.Context(), actor); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
