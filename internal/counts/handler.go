package counts

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

// Handler wires stock count endpoints.
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

// MountRoutes registers stock count routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

type createRequest struct {
	WarehouseID int64     `json:"warehouse_id" validate:"required"`
	CountDate   string    `json:"count_date"`
	CountType   CountType `json:"count_type"`
	Notes       string    `json:"notes"`
	Items       []struct {
		ProductID int64           `json:"product_id" validate:"required"`
		SystemQty decimal.Decimal `json:"system_quantity"`
	} `json:"items" validate:"required,min=1,dive"`
}

type completeRequest struct {
	Items []struct {
		ProductID  int64           `json:"product_id" validate:"required"`
		CountedQty decimal.Decimal `json:"counted_quantity"`
		Notes      string          `json:"notes"`
	} `json:"items" validate:"dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type itemResponse struct {
	ID         int64            `json:"id"`
	ProductID  int64            `json:"product_id"`
	SystemQty  decimal.Decimal  `json:"system_quantity"`
	CountedQty *decimal.Decimal `json:"counted_quantity,omitempty"`
	Variance   decimal.Decimal  `json:"variance"`
	Notes      string           `json:"notes,omitempty"`
}

type countResponse struct {
	ID          int64          `json:"id"`
	Number      string         `json:"number"`
	WarehouseID int64          `json:"warehouse_id"`
	CountDate   time.Time      `json:"count_date"`
	CountType   CountType      `json:"count_type"`
	Status      Status         `json:"status"`
	Notes       string         `json:"notes,omitempty"`
	Items       []itemResponse `json:"items,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func toCountResponse(c StockCount, items []Item) countResponse {
	resp := countResponse{
		ID:          c.ID,
		Number:      c.Number,
		WarehouseID: c.WarehouseID,
		CountDate:   c.CountDate,
		CountType:   c.CountType,
		Status:      c.Status,
		Notes:       c.Notes,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for _, it := range items {
		ir := itemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			SystemQty: it.SystemQty,
			Variance:  it.Variance(),
			Notes:     it.Notes,
		}
		if it.CountedQty.Valid {
			qty := it.CountedQty.Decimal
			ir.CountedQty = &qty
		}
		resp.Items = append(resp.Items, ir)
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
		FromDate: parseDate(r.URL.Query().Get("from")),
		ToDate:   parseDate(r.URL.Query().Get("to")),
	}
	filter.WarehouseID, _ = strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)

	items, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list stock counts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]countResponse, 0, len(items))
	for _, c := range items {
		out = append(out, toCountResponse(c, nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock_counts": out})
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
	input := CreateInput{
		WarehouseID: req.WarehouseID,
		CountDate:   parseDate(req.CountDate),
		CountType:   req.CountType,
		Notes:       req.Notes,
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: it.ProductID, SystemQty: it.SystemQty})
	}
	c, items, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		h.logger.Error("create stock count", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCountResponse(c, items))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	c, items, err := h.service.Get(r.Context(), actor, parseID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCountResponse(c, items))
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
	input := CompleteInput{}
	for _, it := range req.Items {
		input.Items = append(input.Items, CountedItem{
			ProductID:  it.ProductID,
			CountedQty: it.CountedQty,
			Notes:      it.Notes,
		})
	}
	c, items, err := h.service.Complete(r.Context(), actor, parseID(r), input)
	h.metrics.ObserveTransition("stock_count", "complete", err)
	if err != nil {
		h.logger.Error("complete stock count", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCountResponse(c, items))
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
	c, err := h.service.Cancel(r.Context(), actor, parseID(r), req.Reason)
	h.metrics.ObserveTransition("stock_count", "cancel", err)
	if err != nil {
		h.logger.Error("cancel stock count", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCountResponse(c, nil))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, parseID(r)); err != nil {
		h.logger.Error("delete stock count", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}
