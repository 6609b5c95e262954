package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vaultflow/auth"
	"vaultflow/decision"
	"vaultflow/execution"
	"vaultflow/ledger"
	"vaultflow/operation"
	"vaultflow/queue"
	"vaultflow/submission"
	"vaultflow/telemetry"
)

type submitter interface {
	Submit(ctx context.Context, params submission.SubmitParams) (submission.Receipt, error)
}

type deciderService interface {
	Decide(ctx context.Context, params decision.DecideParams) (decision.Outcome, error)
}

type entryReader interface {
	Get(ctx context.Context, id string) (queue.Entry, error)
	List(ctx context.Context, filters queue.Filters) ([]queue.Entry, int, error)
}

type makerLimiter interface {
	AllowMaker(ctx context.Context, makerID string) (bool, float64, error)
}

// Server wires the HTTP surface collaborators use to reach the engine.
type Server struct {
	submissions submitter
	decisions   deciderService
	entries     entryReader
	tokens      *auth.TokenService
	limiter     makerLimiter
	logger      *slog.Logger
}

// Router builds the HTTP router. All /api routes require a verified staff
// token; maker and decider identities come from the token, never the body.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		if s.tokens != nil {
			r.Use(s.tokens.Middleware)
		}
		r.Post("/api/queue", s.handleSubmit)
		r.Get("/api/queue", s.handleList)
		r.Get("/api/queue/{id}", s.handleGet)
		r.Post("/api/queue/{id}/decision", s.handleDecide)
	})

	return r
}

type submitRequest struct {
	OperationType string          `json:"operation_type"`
	ReferenceID   string          `json:"reference_id"`
	Amount        *int64          `json:"amount"`
	Payload       json.RawMessage `json:"payload"`
}

type submitResponse struct {
	QueueID  string `json:"queue_id"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.AllowMaker(r.Context(), actor.ID)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "submission rate exceeded", http.StatusTooManyRequests)
			return
		}
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	receipt, err := s.submissions.Submit(r.Context(), submission.SubmitParams{
		Type:        operation.Type(req.OperationType),
		ReferenceID: req.ReferenceID,
		Maker:       actor,
		Amount:      req.Amount,
		Payload:     req.Payload,
	})
	if err != nil {
		// Auto-approved entries that failed at execution still have a queue
		// id; surface it so the operator can find the EXECUTION_FAILED entry.
		if receipt.QueueID != "" {
			writeJSON(w, statusForError(err), submitResponse{
				QueueID:  receipt.QueueID,
				Status:   string(receipt.Status),
				Priority: string(receipt.Priority),
				Error:    err.Error(),
			})
			return
		}
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		QueueID:  receipt.QueueID,
		Status:   string(receipt.Status),
		Priority: string(receipt.Priority),
		Message:  receipt.Message,
	})
}

type decideRequest struct {
	Approve         bool   `json:"approve"`
	RejectionReason string `json:"rejection_reason"`
}

type decideResponse struct {
	QueueID string `json:"queue_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	queueID := chi.URLParam(r, "id")
	outcome, err := s.decisions.Decide(r.Context(), decision.DecideParams{
		QueueID:         queueID,
		Decider:         actor,
		Approve:         req.Approve,
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		// An execution failure after approval is reported with the final
		// entry state so the decider can distinguish it from a rejection.
		if outcome.Entry.Status == queue.StatusExecutionFailed {
			writeJSON(w, statusForError(err), decideResponse{
				QueueID: outcome.Entry.ID,
				Status:  string(outcome.Entry.Status),
				Error:   err.Error(),
			})
			return
		}
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, decideResponse{
		QueueID: outcome.Entry.ID,
		Status:  string(outcome.Entry.Status),
		Message: outcome.Message,
	})
}

type entryResponse struct {
	QueueID         string          `json:"queue_id"`
	OperationType   string          `json:"operation_type"`
	ReferenceID     string          `json:"reference_id"`
	MakerID         string          `json:"maker_id"`
	MakerName       string          `json:"maker_name"`
	Branch          string          `json:"branch"`
	Amount          *int64          `json:"amount,omitempty"`
	Status          string          `json:"status"`
	Priority        string          `json:"priority"`
	PolicyReason    string          `json:"policy_reason,omitempty"`
	CreatedAt       string          `json:"created_at"`
	DecidedAt       *string         `json:"decided_at,omitempty"`
	Decider         *string         `json:"decider,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	ExecutedAt      *string         `json:"executed_at,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
}

type listResponse struct {
	Items []entryResponse `json:"items"`
	Total int             `json:"total"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := queue.Filters{
		Status:   queue.Status(q.Get("status")),
		Type:     operation.Type(q.Get("type")),
		Branch:   q.Get("branch"),
		Priority: operation.Priority(q.Get("priority")),
		Page:     atoiDefault(q.Get("page"), 1),
		PageSize: atoiDefault(q.Get("page_size"), 50),
	}

	items, total, err := s.entries.List(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := listResponse{Items: make([]entryResponse, 0, len(items)), Total: total}
	for _, entry := range items {
		resp.Items = append(resp.Items, toEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.entries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func toEntryResponse(entry queue.Entry) entryResponse {
	resp := entryResponse{
		QueueID:         entry.ID,
		OperationType:   string(entry.Type),
		ReferenceID:     entry.ReferenceID,
		MakerID:         entry.Maker.ID,
		MakerName:       entry.Maker.Name,
		Branch:          entry.Maker.Branch,
		Amount:          entry.Amount,
		Status:          string(entry.Status),
		Priority:        string(entry.Priority),
		PolicyReason:    entry.PolicyReason,
		CreatedAt:       entry.CreatedAt.Format(time.RFC3339),
		Decider:         entry.Decider,
		RejectionReason: entry.RejectionReason,
		Result:          entry.Result,
		FailureReason:   entry.FailureReason,
	}
	if entry.DecidedAt != nil {
		v := entry.DecidedAt.Format(time.RFC3339)
		resp.DecidedAt = &v
	}
	if entry.ExecutedAt != nil {
		v := entry.ExecutedAt.Format(time.RFC3339)
		resp.ExecutedAt = &v
	}
	return resp
}

func actorFromRequest(r *http.Request) (queue.Actor, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return queue.Actor{}, false
	}
	return queue.Actor{
		ID:     id.StaffID,
		Name:   id.FullName,
		Role:   id.Role,
		Branch: id.Branch,
	}, true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, operation.ErrValidation),
		errors.Is(err, submission.ErrAmountRequired),
		errors.Is(err, submission.ErrAmountMismatch),
		errors.Is(err, decision.ErrReasonRequired):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrDuplicateReference),
		errors.Is(err, queue.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, decision.ErrSelfDecision):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrAccountNotActive),
		errors.Is(err, ledger.ErrDuplicateAccount),
		errors.Is(err, ledger.ErrDuplicateLoan),
		errors.Is(err, ledger.ErrDuplicatePolicy),
		errors.Is(err, ledger.ErrDuplicateStaff),
		errors.Is(err, ledger.ErrStaffNotFound),
		errors.Is(err, execution.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func atoiDefault(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
