package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/dispatch"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/logger"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/repo"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/scheduler"
)

// Runner drains one channel of the outbox.
type Runner interface {
	Run(ctx context.Context) (dispatch.RunSummary, error)
}

type MessageLister interface {
	List(ctx context.Context, f repo.ListFilter) ([]model.OutboxMessage, error)
}

type Handler struct {
	push       Runner
	whatsapp   Runner
	messages   MessageLister
	sched      *scheduler.Scheduler
	runTimeout time.Duration
}

func NewHandler(push, whatsapp Runner, messages MessageLister, s *scheduler.Scheduler) *Handler {
	return &Handler{push: push, whatsapp: whatsapp, messages: messages, sched: s}
}

// WithRunTimeout bounds each triggered run. Messages not reached before the
// deadline go back to pending.
func (h *Handler) WithRunTimeout(d time.Duration) *Handler {
	h.runTimeout = d
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) DispatchPush(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.push)
}

func (h *Handler) DispatchWhatsApp(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.whatsapp)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, run Runner) {
	ctx := r.Context()
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	summary, err := run.Run(ctx)
	if err != nil {
		logger.From(ctx).Error("dispatch run failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type messageView struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	Channel        model.Channel   `json:"channel"`
	MemberID       string          `json:"memberId"`
	DeviceID       *string         `json:"deviceId,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Status         model.Status    `json:"status"`
	Error          *string         `json:"error,omitempty"`
	ClaimedBy      *string         `json:"claimedBy,omitempty"`
	LeaseExpiresAt *time.Time      `json:"leaseExpiresAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	SentAt         *time.Time      `json:"sentAt,omitempty"`
}

func toView(m model.OutboxMessage) messageView {
	return messageView{
		ID:             m.ID,
		TenantID:       m.TenantID,
		Channel:        m.Channel,
		MemberID:       m.MemberID,
		DeviceID:       m.DeviceID,
		Phone:          m.Phone,
		Payload:        m.Payload,
		Status:         m.Status,
		Error:          m.Error,
		ClaimedBy:      m.ClaimedBy,
		LeaseExpiresAt: m.LeaseExpiresAt,
		CreatedAt:      m.CreatedAt,
		SentAt:         m.SentAt,
	}
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repo.ListFilter{
		Channel: model.Channel(q.Get("channel")),
		Status:  model.Status(q.Get("status")),
		Limit:   parseInt(q.Get("limit"), 50),
		Offset:  parseInt(q.Get("offset"), 0),
	}
	if f.Channel != "" && !f.Channel.Valid() {
		http.Error(w, "invalid channel", http.StatusBadRequest)
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	items, err := h.messages.List(r.Context(), f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]messageView, 0, len(items))
	for _, m := range items {
		views = append(views, toView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
