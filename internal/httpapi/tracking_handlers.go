package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"worklane.org/internal/audit"
	"worklane.org/internal/tracking"
)

type startSessionRequest struct {
	SubjectID      string    `json:"subject_id"`
	SubjectType    string    `json:"subject_type"`
	LocalStartTime time.Time `json:"local_start_time,omitzero"`
}

type heartbeatRequest struct {
	IsActive *bool `json:"is_active"`
}

type endSessionRequest struct {
	LocalEndTime time.Time `json:"local_end_time,omitzero"`
}

type syncSessionsRequest struct {
	Sessions []tracking.OfflineEntry `json:"sessions"`
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.tracking.StartSession(r.Context(), userID, req.SubjectID, req.SubjectType, req.LocalStartTime)
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "session.start", map[string]any{
		"session_id": sess.ID,
		"subject_id": sess.SubjectID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/sessions/%s", sess.ID))
	writeJSON(w, http.StatusCreated, sess)
}

// handleSessionResource routes /v1/sessions/{id}/heartbeat and
// /v1/sessions/{id}/end.
func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	sessionID := parts[0]

	switch parts[1] {
	case "heartbeat":
		// An absent body or is_active field means the client is active.
		isActive := true
		if r.ContentLength != 0 {
			var req heartbeatRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			if req.IsActive != nil {
				isActive = *req.IsActive
			}
		}
		result, err := a.tracking.Heartbeat(r.Context(), userID, sessionID, isActive)
		if err != nil {
			handleTrackingError(w, r, err)
			return
		}
		if result.Status == tracking.ResultAutoPaused {
			_ = audit.LogEvent(r.Context(), "session.auto_pause", map[string]any{
				"session_id":  sessionID,
				"duration_ms": result.DurationMillis,
			})
		}
		writeJSON(w, http.StatusOK, result)
	case "end":
		var req endSessionRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
		}
		result, err := a.tracking.EndSession(r.Context(), userID, sessionID, req.LocalEndTime)
		if err != nil {
			handleTrackingError(w, r, err)
			return
		}
		if result.Status == tracking.ResultCompleted {
			_ = audit.LogEvent(r.Context(), "session.end", map[string]any{
				"session_id":  sessionID,
				"duration_ms": result.DurationMillis,
			})
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleSessionsSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	var req syncSessionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	results, err := a.tracking.SyncOfflineSessions(r.Context(), userID, req.Sessions)
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}
	synced := 0
	for _, res := range results {
		if res.Success {
			synced++
		}
	}
	_ = audit.LogEvent(r.Context(), "session.offline_sync", map[string]any{
		"total":  len(results),
		"synced": synced,
	})
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleSessionActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	sess, err := a.tracking.ActiveSession(r.Context(), userID)
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleTrackers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	trackers, err := a.tracking.Trackers(r.Context(), userID, r.URL.Query().Get("subject_id"))
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trackers": trackers})
}

func (a *API) handleDailyLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	logs, err := a.tracking.DailyLogs(r.Context(), userID, r.URL.Query().Get("date"))
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"daily_logs": logs})
}

func handleTrackingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracking.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracking.ErrSessionActive):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, tracking.ErrClockSkew), errors.Is(err, tracking.ErrSessionTooLong):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tracking.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
