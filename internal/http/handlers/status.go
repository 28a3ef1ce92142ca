package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iago/link-collector-back/internal/service"
)

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := strings.TrimSpace(r.PathValue("job_id"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	view, err := api.jobsService.Status(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, err, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(view))
}

// WatchStatus streams status payloads over a WebSocket until the job reaches
// a terminal state or the client goes away.
func (api *API) WatchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := strings.TrimSpace(r.PathValue("job_id"))
	view, err := api.jobsService.Status(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, err, "failed to load job")
		return
	}

	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.logf("websocket upgrade failed job_id=%s err=%v", jobID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(api.watchInterval)
	defer ticker.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(toStatusResponse(view)); err != nil {
			api.logf("websocket write failed job_id=%s err=%v", jobID, err)
			return
		}
		if view.Status.Terminal() {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(view.Status)),
				time.Now().Add(time.Second),
			)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := api.jobsService.Status(ctx, jobID)
		if err != nil {
			api.logf("watch status failed job_id=%s err=%v", jobID, err)
			return
		}
		view = next
	}
}

func toStatusResponse(view service.JobStatusView) statusResponse {
	return statusResponse{
		JobID:  view.JobID,
		Status: view.Status,
		Result: view.Result,
		Error:  view.Error,
	}
}
