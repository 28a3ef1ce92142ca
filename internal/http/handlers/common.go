package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/http/middleware"
	"github.com/iago/link-collector-back/internal/quota"
	"github.com/iago/link-collector-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type APIDependencies struct {
	Jobs          *service.JobsService
	Quota         quota.Gate
	WatchInterval time.Duration
	Logger        *log.Logger
}

type API struct {
	jobsService   *service.JobsService
	quota         quota.Gate
	idempotency   *idempotencyStore
	upgrader      websocket.Upgrader
	watchInterval time.Duration
	logger        *log.Logger
}

func NewAPI(deps APIDependencies) *API {
	if deps.Quota == nil {
		deps.Quota = quota.Allow{}
	}
	if deps.WatchInterval <= 0 {
		deps.WatchInterval = time.Second
	}
	return &API{
		jobsService:   deps.Jobs,
		quota:         deps.Quota,
		idempotency:   newIdempotencyStore(),
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		watchInterval: deps.WatchInterval,
		logger:        deps.Logger,
	}
}

type processRequest struct {
	URL      string `json:"url"`
	UserID   string `json:"user_id"`
	Language string `json:"language"`
}

type processResponse struct {
	JobID          string           `json:"job_id"`
	Status         domain.JobStatus `json:"status"`
	StatusURL      string           `json:"status_url"`
	RemainingQuota int              `json:"remaining_quota"`
}

type statusResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps the domain taxonomy onto HTTP statuses. Messages of
// domain.Error values are user facing; anything else is reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	message := fallback
	var typed *domain.Error
	if errors.As(err, &typed) {
		message = typed.Message
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_request", message)
	case errors.Is(err, domain.ErrQuotaExceeded):
		writeError(w, r, http.StatusPaymentRequired, "quota_exceeded", message)
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "Job not found")
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, "user_not_found", message)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", fallback)
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func (api *API) logf(format string, args ...any) {
	if api.logger != nil {
		api.logger.Printf(format, args...)
	}
}

// idempotencyEntry with an empty JobID is a reservation held by a request
// that has not finished enqueueing yet.
type idempotencyEntry struct {
	PayloadHash    uint64
	JobID          string
	RemainingQuota int
	CreatedAt      time.Time
}

func (e idempotencyEntry) pending() bool {
	return e.JobID == ""
}

type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

// Reserve claims key for payloadHash. When the key is already known it
// returns the existing entry and false.
func (s *idempotencyStore) Reserve(key string, payloadHash uint64) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		return entry, false
	}
	s.entries[key] = idempotencyEntry{PayloadHash: payloadHash, CreatedAt: time.Now().UTC()}
	return idempotencyEntry{}, true
}

func (s *idempotencyStore) Complete(key string, entry idempotencyEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.CreatedAt = time.Now().UTC()
	s.entries[key] = entry
}

// Release drops a reservation so the client can retry with the same key.
func (s *idempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && entry.pending() {
		delete(s.entries, key)
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
