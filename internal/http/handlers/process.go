package handlers

import (
	"net/http"
	"strings"

	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/quota"
)

// Process accepts a URL, checks the caller's credits and queues the job.
// Processing happens asynchronously; callers poll status_url.
func (api *API) Process(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request processRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(request.UserID) == "" {
		request.UserID = quota.DemoUserID
	}
	if strings.TrimSpace(request.Language) == "" {
		request.Language = domain.LanguageAuto
	}
	if strings.TrimSpace(request.URL) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		entry, reserved := api.idempotency.Reserve(idempotencyKey, payloadHash)
		if !reserved {
			switch {
			case entry.PayloadHash != payloadHash:
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
			case entry.pending():
				writeError(w, r, http.StatusConflict, "idempotency_in_progress", "a request with this Idempotency-Key is still being processed")
			default:
				writeAccepted(w, entry.JobID, entry.RemainingQuota)
			}
			return
		}
	}

	profile, err := api.quota.Check(r.Context(), request.UserID)
	if err != nil {
		api.releaseIdempotencyKey(idempotencyKey)
		writeServiceError(w, r, err, "failed to check quota")
		return
	}

	job, err := api.jobsService.Enqueue(r.Context(), request.URL, request.UserID, request.Language)
	if err != nil {
		api.releaseIdempotencyKey(idempotencyKey)
		writeServiceError(w, r, err, "failed to enqueue job")
		return
	}
	if err := api.quota.Record(r.Context(), profile, job.ID); err != nil {
		api.logf("record usage failed job_id=%s user_id=%s err=%v", job.ID, request.UserID, err)
	}

	if idempotencyKey != "" {
		api.idempotency.Complete(idempotencyKey, idempotencyEntry{
			PayloadHash:    payloadHash,
			JobID:          job.ID,
			RemainingQuota: profile.MonthlyCredits,
		})
	}
	writeAccepted(w, job.ID, profile.MonthlyCredits)
}

func (api *API) releaseIdempotencyKey(key string) {
	if key != "" {
		api.idempotency.Release(key)
	}
}

func writeAccepted(w http.ResponseWriter, jobID string, remainingQuota int) {
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, processResponse{
		JobID:          jobID,
		Status:         domain.JobStatusQueued,
		StatusURL:      "/status/" + jobID,
		RemainingQuota: remainingQuota,
	})
}
