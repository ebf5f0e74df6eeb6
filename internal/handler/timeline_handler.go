package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/bookshare/internal/model"
)

// TimelineService はタイムラインハンドラーが必要とするサービスインターフェース。
type TimelineService interface {
	ListTimeline(ctx context.Context, userID int64) ([]*model.TimelineEntry, error)
	RecordEvent(ctx context.Context, actorID int64, typ model.TimelineType, message string) (*model.TimelineEntry, error)
}

// TimelineHandler はタイムラインのHTTPハンドラー。
type TimelineHandler struct {
	service TimelineService
}

// NewTimelineHandler はTimelineHandlerを生成する。
func NewTimelineHandler(service TimelineService) *TimelineHandler {
	return &TimelineHandler{service: service}
}

type recordEventRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ListTimeline はタイムラインを新しい順に返す。
// GET /v1/users/{user_id}/timeline
func (h *TimelineHandler) ListTimeline(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	entries, err := h.service.ListTimeline(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(entries, toTimelineEntryResponse))
}

// RecordEvent は任意のイベントをタイムラインに記録する。
// POST /v1/users/{user_id}/timeline
func (h *TimelineHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	actor, err := selfActor(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req recordEventRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	entry, err := h.service.RecordEvent(r.Context(), actor, model.TimelineType(req.Type), req.Message)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTimelineEntryResponse(entry))
}
