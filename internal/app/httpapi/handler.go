// Package httpapi exposes the platform over HTTP/JSON.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/campuslance/platform/internal/app/domain/bid"
	"github.com/campuslance/platform/internal/app/domain/payment"
	"github.com/campuslance/platform/internal/app/domain/task"
	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/internal/app/gateway"
	"github.com/campuslance/platform/internal/app/services/bids"
	"github.com/campuslance/platform/internal/app/services/escrow"
	"github.com/campuslance/platform/internal/app/services/tasks"
	"github.com/campuslance/platform/internal/app/services/wallet"
	apperrors "github.com/campuslance/platform/internal/errors"
	"github.com/campuslance/platform/internal/middleware"
	"github.com/campuslance/platform/pkg/logger"
)

// Handler serves the platform API.
type Handler struct {
	tasks  *tasks.Service
	bids   *bids.Service
	escrow *escrow.Service
	wallet *wallet.Service
	log    *logger.Logger
	mux    *http.ServeMux
}

// New builds the handler and registers its routes.
func New(taskSvc *tasks.Service, bidSvc *bids.Service, escrowSvc *escrow.Service, walletSvc *wallet.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &Handler{
		tasks:  taskSvc,
		bids:   bidSvc,
		escrow: escrowSvc,
		wallet: walletSvc,
		log:    log,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("/healthz", h.handleHealth)
	h.mux.HandleFunc("/tasks", h.handleTasks)
	h.mux.HandleFunc("/tasks/", h.handleTaskByID)
	h.mux.HandleFunc("/bids", h.handleBids)
	h.mux.HandleFunc("/bids/", h.handleBidByID)
	h.mux.HandleFunc("/admin/payments/", h.handleAdminPayment)
	h.mux.HandleFunc("/webhooks/gateway", h.handleGatewayWebhook)
	h.mux.HandleFunc("/students/", h.handleStudent)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- helpers ----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.Validation("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (middleware.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, apperrors.Unauthorized("authentication required"))
		return middleware.Actor{}, false
	}
	return actor, true
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, role user.Role) (middleware.Actor, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return middleware.Actor{}, false
	}
	if actor.Role != role {
		h.writeError(w, apperrors.Forbidden("requires %s role", role))
		return middleware.Actor{}, false
	}
	return actor, true
}

func pathParts(r *http.Request) []string {
	return strings.Split(strings.Trim(r.URL.Path, "/"), "/")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

// --- health -----------------------------------------------------------------

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- tasks ------------------------------------------------------------------

type createTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Budget         float64  `json:"budget"`
	Deadline       string   `json:"deadline"`
	Location       string   `json:"location"`
	Domain         string   `json:"domain"`
	Company        string   `json:"company"`
	RequiredSkills []string `json:"required_skills"`
}

func (h *Handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		actor, ok := h.requireRole(w, r, user.RoleClient)
		if !ok {
			return
		}
		var req createTaskRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
		created, err := h.tasks.Create(r.Context(), actor.ID, task.Task{
			Title:          req.Title,
			Description:    req.Description,
			Budget:         req.Budget,
			Deadline:       req.Deadline,
			Location:       req.Location,
			Domain:         req.Domain,
			Company:        req.Company,
			RequiredSkills: req.RequiredSkills,
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		actor, ok := h.requireRole(w, r, user.RoleStudent)
		if !ok {
			return
		}
		query := r.URL.Query()
		feed, err := h.tasks.Feed(r.Context(), actor.ID, tasks.FeedFilter{
			Location: query.Get("location"),
			Domain:   query.Get("domain"),
			Company:  query.Get("company"),
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, feed)

	default:
		methodNotAllowed(w)
	}
}

type submitWorkRequest struct {
	FileURL string `json:"file_url"`
}

type declineWorkRequest struct {
	Reason string `json:"reason"`
}

type rateTaskRequest struct {
	Rating int `json:"rating"`
}

type feedbackRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (h *Handler) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r)

	if len(parts) == 2 {
		switch parts[1] {
		case "recommended":
			h.handleRecommended(w, r)
			return
		case "mine":
			h.handleMine(w, r)
			return
		case "assigned":
			h.handleAssigned(w, r)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		t, err := h.tasks.Get(r.Context(), parts[1])
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
		return
	}

	if len(parts) != 3 || r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	taskID, action := parts[1], parts[2]

	switch action {
	case "submit":
		actor, ok := h.requireRole(w, r, user.RoleStudent)
		if !ok {
			return
		}
		var req submitWorkRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
		updated, err := h.escrow.SubmitWork(r.Context(), actor.ID, taskID, req.FileURL)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case "approve":
		actor, ok := h.requireRole(w, r, user.RoleClient)
		if !ok {
			return
		}
		updated, err := h.escrow.ApproveWork(r.Context(), actor.ID, taskID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case "decline":
		actor, ok := h.requireRole(w, r, user.RoleClient)
		if !ok {
			return
		}
		var req declineWorkRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
		updated, err := h.escrow.DeclineWork(r.Context(), actor.ID, taskID, req.Reason)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case "rate":
		actor, ok := h.requireRole(w, r, user.RoleClient)
		if !ok {
			return
		}
		var req rateTaskRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
		updated, err := h.escrow.RateTask(r.Context(), actor.ID, taskID, req.Rating)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case "feedback":
		actor, ok := h.requireRole(w, r, user.RoleClient)
		if !ok {
			return
		}
		var req feedbackRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
		updated, err := h.escrow.RecordFeedback(r.Context(), actor.ID, taskID, req.Score, req.Comment)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	default:
		h.writeError(w, apperrors.NotFound("unknown task action %q", action))
	}
}

func (h *Handler) handleRecommended(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.requireRole(w, r, user.RoleStudent)
	if !ok {
		return
	}
	list, err := h.tasks.Recommended(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type taskWithBids struct {
	task.Task
	BidCount int `json:"bid_count"`
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.requireRole(w, r, user.RoleClient)
	if !ok {
		return
	}
	list, err := h.tasks.Mine(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]taskWithBids, len(list))
	for i, item := range list {
		out[i] = taskWithBids{Task: item.Task, BidCount: item.BidCount}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAssigned(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.requireRole(w, r, user.RoleStudent)
	if !ok {
		return
	}
	list, err := h.tasks.Assigned(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- bids -------------------------------------------------------------------

type submitBidRequest struct {
	TaskID   string  `json:"task_id"`
	Quote    float64 `json:"quote"`
	Timeline string  `json:"timeline"`
	Message  string  `json:"message"`
}

func (h *Handler) handleBids(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, ok := h.requireRole(w, r, user.RoleStudent)
	if !ok {
		return
	}
	var req submitBidRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	created, err := h.bids.Submit(r.Context(), actor.ID, bid.Bid{
		TaskID:   req.TaskID,
		Quote:    req.Quote,
		Timeline: req.Timeline,
		Message:  req.Message,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleBidByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r)

	if len(parts) == 2 && parts[1] == "mine" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		actor, ok := h.requireRole(w, r, user.RoleStudent)
		if !ok {
			return
		}
		list, err := h.bids.ListForStudent(r.Context(), actor.ID, bid.Status(r.URL.Query().Get("status")))
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	if len(parts) == 3 && parts[1] == "task" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		actor, ok := h.requireRole(w, r, user.RoleClient)
		if !ok {
			return
		}
		list, err := h.bids.ListForTask(r.Context(), actor.ID, parts[2])
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	if len(parts) != 3 || r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	bidID, action := parts[1], parts[2]
	actor, ok := h.requireRole(w, r, user.RoleClient)
	if !ok {
		return
	}

	switch action {
	case "accept":
		result, err := h.escrow.AcceptBid(r.Context(), actor.ID, bidID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"task":    result.Task,
			"bid":     result.Bid,
			"payment": result.Payment,
		})

	case "decline":
		rejected, err := h.escrow.DeclineBid(r.Context(), actor.ID, bidID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rejected)

	default:
		h.writeError(w, apperrors.NotFound("unknown bid action %q", action))
	}
}

// --- admin ------------------------------------------------------------------

type overridePaymentRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *Handler) handleAdminPayment(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r)
	if len(parts) != 4 || parts[1] != "payments" || parts[3] != "status" {
		h.writeError(w, apperrors.NotFound("unknown admin route"))
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	_, ok := h.requireRole(w, r, user.RoleAdmin)
	if !ok {
		return
	}

	var req overridePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.escrow.AdminOverridePayment(r.Context(), parts[2], payment.Status(req.Status), req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- webhooks ---------------------------------------------------------------

// handleGatewayWebhook accepts the gateway's event envelope. Unmatched order
// refs are acknowledged so the gateway stops retrying; the mismatch is
// logged for reconciliation.
func (h *Handler) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, apperrors.Validation("unreadable webhook body"))
		return
	}

	kind := gateway.ParseEventKind(gjson.GetBytes(body, "event").String())
	orderRef := gjson.GetBytes(body, "payload.payment.entity.order_id").String()
	paymentRef := gjson.GetBytes(body, "payload.payment.entity.id").String()

	if kind == "" || orderRef == "" {
		h.writeError(w, apperrors.Validation("webhook missing event or order reference"))
		return
	}

	if _, err := h.escrow.ReconcileGatewayEvent(r.Context(), gateway.Event{
		Kind:       kind,
		OrderRef:   orderRef,
		PaymentRef: paymentRef,
	}); err != nil {
		if apperrors.IsNotFound(err) {
			h.log.WithField("order_ref", orderRef).Warn("webhook for unknown order acknowledged")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// --- students ---------------------------------------------------------------

func (h *Handler) handleStudent(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r)
	if len(parts) != 3 || parts[2] != "wallet" {
		h.writeError(w, apperrors.NotFound("unknown student route"))
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	studentID := parts[1]
	if actor.ID != studentID && actor.Role != user.RoleAdmin {
		h.writeError(w, apperrors.Forbidden("wallet %s is not yours", studentID))
		return
	}

	balance, err := h.wallet.Balance(r.Context(), studentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"student_id": studentID,
		"balance":    balance,
	})
}
