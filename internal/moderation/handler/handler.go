// Package handler exposes the moderation service over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"moderation/internal/moderation/models"
	"moderation/internal/moderation/service"
	dErrors "moderation/pkg/domain-errors"
	"moderation/pkg/platform/httputil"
	"moderation/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service is the moderation surface the handlers call.
type Service interface {
	Decide(ctx context.Context, cmd service.Command) (*service.Decision, error)
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Subject, error)
	Resubmit(ctx context.Context, req service.ResubmitRequest) (*models.Subject, error)
	GetSubject(ctx context.Context, actorID, id string) (*models.Subject, error)
	ListSubjects(ctx context.Context, actorID string, filter models.SubjectFilter) (*models.SubjectPage, error)
	History(ctx context.Context, actorID, subjectID string) ([]*models.TransitionRecord, error)
	Counters(ctx context.Context, actorID string) ([]models.Counters, error)
	Reconcile(ctx context.Context, actorID string) (*models.ReconcileReport, error)
	Notifications(ctx context.Context, actorID string, q models.NotificationQuery) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, actorID string) (int, error)
	MarkRead(ctx context.Context, actorID, notificationID string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, actorID string) (int, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts the routes. actorAuth guards administrator and recipient
// routes; intakeAuth guards the routes the owning subsystems call.
func (h *Handler) Register(r chi.Router, actorAuth, intakeAuth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(actorAuth)

		r.Post("/admin/decisions", h.handleDecide)
		r.Get("/admin/subjects", h.handleListSubjects)
		r.Get("/admin/subjects/{id}", h.handleGetSubject)
		r.Get("/admin/subjects/{id}/transitions", h.handleHistory)
		r.Get("/admin/counters", h.handleCounters)
		r.Post("/admin/counters/reconcile", h.handleReconcile)

		r.Get("/notifications", h.handleListNotifications)
		r.Get("/notifications/unread-count", h.handleUnreadCount)
		r.Post("/notifications/read-all", h.handleMarkAllRead)
		r.Post("/notifications/{id}/read", h.handleMarkRead)
	})

	r.Group(func(r chi.Router) {
		r.Use(intakeAuth)

		r.Post("/intake/subjects", h.handleSubmit)
		r.Post("/intake/subjects/{id}/resubmissions", h.handleResubmit)
	})
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	decision, err := h.service.Decide(ctx, service.Command{
		Kind:          models.Kind(req.SubjectKind),
		SubjectIDs:    req.IDs(),
		DesiredStatus: models.Status(req.DesiredStatus),
		Reason:        req.Reason,
		ActorID:       requestcontext.ActorID(ctx),
	})
	if err != nil {
		h.writeError(ctx, w, "decision failed", err)
		return
	}
	if decision.Single != nil {
		httputil.WriteJSON(w, http.StatusOK, decision.Single)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision.Bulk)
}

func (h *Handler) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := models.SubjectFilter{
		Kind:   models.Kind(q.Get("kind")),
		Status: models.Status(q.Get("status")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		h.writeError(ctx, w, "invalid limit", err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		h.writeError(ctx, w, "invalid offset", err)
		return
	}

	page, err := h.service.ListSubjects(ctx, requestcontext.ActorID(ctx), filter)
	if err != nil {
		h.writeError(ctx, w, "list subjects failed", err)
		return
	}
	if page.Subjects == nil {
		page.Subjects = []*models.Subject{}
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subj, err := h.service.GetSubject(ctx, requestcontext.ActorID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "get subject failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subj)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	recs, err := h.service.History(ctx, requestcontext.ActorID(ctx), id)
	if err != nil {
		h.writeError(ctx, w, "list transitions failed", err)
		return
	}
	if recs == nil {
		recs = []*models.TransitionRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, TransitionsResponse{SubjectID: id, Transitions: recs})
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counters, err := h.service.Counters(ctx, requestcontext.ActorID(ctx))
	if err != nil {
		h.writeError(ctx, w, "load counters failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CountersResponse{Counters: counters})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.service.Reconcile(ctx, requestcontext.ActorID(ctx))
	if err != nil {
		h.writeError(ctx, w, "reconcile failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	subj, err := h.service.Submit(ctx, service.SubmitRequest{
		ID:         req.ID,
		Kind:       models.Kind(req.Kind),
		OwnerID:    req.OwnerID,
		PayloadRef: req.PayloadRef,
	})
	if err != nil {
		h.writeError(ctx, w, "submit failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, subj)
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ResubmitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	subj, err := h.service.Resubmit(ctx, service.ResubmitRequest{
		ID:         req.ID,
		PriorID:    chi.URLParam(r, "id"),
		OwnerID:    req.OwnerID,
		PayloadRef: req.PayloadRef,
	})
	if err != nil {
		h.writeError(ctx, w, "resubmit failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, subj)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query, err := notificationQuery(r)
	if err != nil {
		h.writeError(ctx, w, "invalid notification query", err)
		return
	}
	list, err := h.service.Notifications(ctx, requestcontext.ActorID(ctx), query)
	if err != nil {
		h.writeError(ctx, w, "list notifications failed", err)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, NotificationsResponse{Notifications: list})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := h.service.UnreadCount(ctx, requestcontext.ActorID(ctx))
	if err != nil {
		h.writeError(ctx, w, "unread count failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, UnreadCountResponse{Unread: count})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.service.MarkRead(ctx, requestcontext.ActorID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "mark read failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	updated, err := h.service.MarkAllRead(ctx, requestcontext.ActorID(ctx))
	if err != nil {
		h.writeError(ctx, w, "mark all read failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MarkAllReadResponse{Updated: updated})
}

// writeError logs at error level only for failures the caller cannot fix.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code, _ := dErrors.CodeOf(err)
	switch code {
	case "", dErrors.CodeInternal, dErrors.CodeTimeout, dErrors.CodeInvariantViolation:
		h.logger.ErrorContext(ctx, msg, "error", err)
	default:
		h.logger.WarnContext(ctx, msg, "error_code", string(code), "error", err)
	}
	httputil.WriteError(w, err)
}

func notificationQuery(r *http.Request) (models.NotificationQuery, error) {
	q := r.URL.Query()
	var query models.NotificationQuery
	if v := q.Get("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return query, dErrors.New(dErrors.CodeBadRequest, "unread must be a boolean")
		}
		query.UnreadOnly = unread
	}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil || after < 0 {
			return query, dErrors.New(dErrors.CodeBadRequest, "after must be a non-negative sequence number")
		}
		query.AfterSequence = after
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return query, err
	}
	query.Limit = limit
	return query, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "paging parameters must be non-negative integers")
	}
	return n, nil
}
