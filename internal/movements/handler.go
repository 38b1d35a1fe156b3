package movements

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/observability"
	"github.com/fieldline-dms/fieldline/internal/platform/httpx"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Handler wires stock movement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		metrics:   metrics,
		validator: validator.New(),
	}
}

// MountRoutes registers stock movement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/stats/summary", h.stats)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

type createRequest struct {
	Kind            Kind            `json:"movement_type" validate:"required"`
	ProductID       int64           `json:"product_id" validate:"required"`
	FromWarehouseID int64           `json:"from_warehouse_id"`
	ToWarehouseID   int64           `json:"to_warehouse_id"`
	Quantity        decimal.Decimal `json:"quantity" validate:"required"`
	MovementDate    string          `json:"movement_date"`
	Reason          string          `json:"reason"`
	Notes           string          `json:"notes"`
}

type updateRequest struct {
	Quantity     decimal.Decimal `json:"quantity"`
	MovementDate string          `json:"movement_date"`
	Reason       string          `json:"reason"`
	Notes        string          `json:"notes"`
}

type completeRequest struct {
	ReceivedQty *decimal.Decimal `json:"received_quantity"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type movementResponse struct {
	ID              int64            `json:"id"`
	Number          string           `json:"number"`
	Kind            Kind             `json:"movement_type"`
	ProductID       int64            `json:"product_id"`
	FromWarehouseID int64            `json:"from_warehouse_id,omitempty"`
	ToWarehouseID   int64            `json:"to_warehouse_id,omitempty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	ReceivedQty     *decimal.Decimal `json:"received_quantity,omitempty"`
	Variance        *decimal.Decimal `json:"variance,omitempty"`
	MovementDate    time.Time        `json:"movement_date"`
	Reason          string           `json:"reason,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	Status          Status           `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func toMovementResponse(m Movement) movementResponse {
	resp := movementResponse{
		ID:              m.ID,
		Number:          m.Number,
		Kind:            m.Kind,
		ProductID:       m.ProductID,
		FromWarehouseID: m.FromWarehouseID,
		ToWarehouseID:   m.ToWarehouseID,
		Quantity:        m.Quantity,
		MovementDate:    m.MovementDate,
		Reason:          m.Reason,
		Notes:           m.Notes,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.ReceivedQty.Valid {
		qty := m.ReceivedQty.Decimal
		resp.ReceivedQty = &qty
	}
	if m.Variance.Valid {
		v := m.Variance.Decimal
		resp.Variance = &v
	}
	return resp
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, err := shared.ActorFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Actor{}, false
	}
	return actor, true
}

func parseID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	filter := ListFilter{
		Status:   Status(r.URL.Query().Get("status")),
		Kind:     Kind(r.URL.Query().Get("movement_type")),
		FromDate: parseDate(r.URL.Query().Get("from")),
		ToDate:   parseDate(r.URL.Query().Get("to")),
	}
	filter.WarehouseID, _ = strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)

	items, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list stock movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(items))
	for _, m := range items {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock_movements": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	m, err := h.service.Create(r.Context(), actor, CreateInput{
		Kind:            req.Kind,
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		MovementDate:    parseDate(req.MovementDate),
		Reason:          req.Reason,
		Notes:           req.Notes,
	})
	if err != nil {
		h.logger.Error("create stock movement", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(m))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	m, err := h.service.Get(r.Context(), actor, parseID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponse(m))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	m, err := h.service.UpdatePending(r.Context(), actor, parseID(r), UpdateInput{
		Quantity:     req.Quantity,
		MovementDate: parseDate(req.MovementDate),
		Reason:       req.Reason,
		Notes:        req.Notes,
	})
	if err != nil {
		h.logger.Error("update stock movement", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponse(m))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	m, err := h.service.Approve(r.Context(), actor, parseID(r))
	h.metrics.ObserveTransition("stock_movement", "approve", err)
	if err != nil {
		h.logger.Error("approve stock movement", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponse(m))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
			return
		}
	}
	m, err := h.service.Complete(r.Context(), actor, parseID(r), CompleteInput{ReceivedQty: req.ReceivedQty})
	h.metrics.ObserveTransition("stock_movement", "complete", err)
	if err != nil {
		h.logger.Error("complete stock movement", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponse(m))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cancellation reason is required")
		return
	}
	m, err := h.service.Cancel(r.Context(), actor, parseID(r), req.Reason)
	h.metrics.ObserveTransition("stock_movement", "cancel", err)
	if err != nil {
		h.logger.Error("cancel stock movement", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponse(m))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, parseID(r)); err != nil {
		h.logger.Error("delete stock movement", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"summary": stats})
}
