// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/hitoshi/bookshare/internal/middleware"
	"github.com/hitoshi/bookshare/internal/model"
)

// maxRequestBodySize はリクエストボディの最大サイズ（1MB）。
const maxRequestBodySize = 1 << 20

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := jsonAPI.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。
// 解析に失敗した場合はValidationエラーを返す。
func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxRequestBodySize)
	if err := jsonAPI.NewDecoder(body).Decode(v); err != nil {
		return model.NewValidationError("リクエストボディの解析に失敗しました")
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := middleware.StatusForKind(apiErr.Kind)
		if apiErr.Code == model.ErrCodeUnauthenticated || apiErr.Code == model.ErrCodeInvalidCredentials {
			status = http.StatusUnauthorized
		}
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// pathID はURLパスパラメータを正の整数IDとして解析する。
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError(name + "は正の整数で指定してください")
	}
	return id, nil
}

// actorID はトークンで認証された操作ユーザーのIDを返す。
func actorID(r *http.Request) (int64, error) {
	id, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return 0, model.NewUnauthenticatedError()
	}
	return id, nil
}

// selfActor はパスのuser_idが操作ユーザー自身であることを確認し、そのIDを返す。
func selfActor(r *http.Request) (int64, error) {
	actor, err := actorID(r)
	if err != nil {
		return 0, err
	}
	pathUserID, err := pathID(r, "user_id")
	if err != nil {
		return 0, err
	}
	if pathUserID != actor {
		return 0, model.NewForbiddenActorError()
	}
	return actor, nil
}
