package purchasing

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/money"
	"github.com/fieldline-dms/fieldline/internal/observability"
	"github.com/fieldline-dms/fieldline/internal/platform/httpx"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Handler wires purchase order endpoints.
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

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/stats/summary", h.stats)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/receive", h.receive)
	r.Post("/{id}/cancel", h.cancel)
}

type itemRequest struct {
	ProductID int64           `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes"`
}

type createRequest struct {
	SupplierID   int64           `json:"supplier_id" validate:"required"`
	WarehouseID  int64           `json:"warehouse_id" validate:"required"`
	OrderDate    string          `json:"order_date"`
	ExpectedDate string          `json:"expected_date"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Discount     decimal.Decimal `json:"discount"`
	Notes        string          `json:"notes"`
	Items        []itemRequest   `json:"items" validate:"required,min=1,dive"`
}

type receiveRequest struct {
	Items []struct {
		ProductID        int64           `json:"product_id" validate:"required"`
		ReceivedQuantity decimal.Decimal `json:"received_quantity"`
		Notes            string          `json:"notes"`
	} `json:"items" validate:"dive"`
	Notes string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type itemResponse struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ReceivedQuantity *decimal.Decimal `json:"received_quantity,omitempty"`
	Variance         decimal.Decimal `json:"variance"`
	Notes            string          `json:"notes,omitempty"`
}

type orderResponse struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	SupplierID   int64           `json:"supplier_id"`
	WarehouseID  int64           `json:"warehouse_id"`
	OrderDate    time.Time       `json:"order_date"`
	ExpectedDate *time.Time      `json:"expected_date,omitempty"`
	Status       Status          `json:"status"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Discount     decimal.Decimal `json:"discount"`
	Notes        string          `json:"notes,omitempty"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	Total        decimal.Decimal `json:"total"`
	TotalDisplay string          `json:"total_display"`
	Items        []itemResponse  `json:"items,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toOrderResponse(po PurchaseOrder, items []Item, totals money.Totals) orderResponse {
	resp := orderResponse{
		ID:           po.ID,
		Number:       po.Number,
		SupplierID:   po.SupplierID,
		WarehouseID:  po.WarehouseID,
		OrderDate:    po.OrderDate,
		Status:       po.Status,
		TaxRate:      po.TaxRate,
		Discount:     po.Discount,
		Notes:        po.Notes,
		Subtotal:     totals.Subtotal,
		TaxAmount:    totals.Tax,
		Total:        totals.Total,
		TotalDisplay: money.FormatAmount(totals.Total),
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
	}
	if !po.ExpectedDate.IsZero() {
		resp.ExpectedDate = &po.ExpectedDate
	}
	for _, it := range items {
		ir := itemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Variance:  it.Variance(),
			Notes:     it.Notes,
		}
		if it.ReceivedQuantity.Valid {
			qty := it.ReceivedQuantity.Decimal
			ir.ReceivedQuantity = &qty
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
	filter.SupplierID, _ = strconv.ParseInt(r.URL.Query().Get("supplier_id"), 10, 64)

	orders, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, po := range orders {
		out = append(out, toOrderResponse(po, nil, money.Totals{}))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_orders": out})
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
		SupplierID:   req.SupplierID,
		WarehouseID:  req.WarehouseID,
		OrderDate:    parseDate(req.OrderDate),
		ExpectedDate: parseDate(req.ExpectedDate),
		TaxRate:      req.TaxRate,
		Discount:     req.Discount,
		Notes:        req.Notes,
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Notes:     it.Notes,
		})
	}

	po, items, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		h.logger.Error("create purchase order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	totals, _ := po.Totals(items)
	httpx.JSON(w, http.StatusCreated, toOrderResponse(po, items, totals))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	po, items, totals, err := h.service.Get(r.Context(), actor, parseID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(po, items, totals))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	input := UpdateInput{
		SupplierID:   req.SupplierID,
		WarehouseID:  req.WarehouseID,
		ExpectedDate: parseDate(req.ExpectedDate),
		TaxRate:      req.TaxRate,
		Discount:     req.Discount,
		Notes:        req.Notes,
	}
	if req.Items != nil {
		input.Items = make([]ItemInput, 0, len(req.Items))
		for _, it := range req.Items {
			input.Items = append(input.Items, ItemInput{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
				Notes:     it.Notes,
			})
		}
	}
	po, err := h.service.UpdateDraft(r.Context(), actor, parseID(r), input)
	if err != nil {
		h.logger.Error("update purchase order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(po, nil, money.Totals{}))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	po, err := h.service.Approve(r.Context(), actor, parseID(r))
	h.metrics.ObserveTransition("purchase_order", "approve", err)
	if err != nil {
		h.logger.Error("approve purchase order", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(po, nil, money.Totals{}))
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	input := ReceiveInput{Notes: req.Notes}
	for _, it := range req.Items {
		input.Items = append(input.Items, ReceiveItem{
			ProductID:        it.ProductID,
			ReceivedQuantity: it.ReceivedQuantity,
			Notes:            it.Notes,
		})
	}
	po, items, err := h.service.Receive(r.Context(), actor, parseID(r), input)
	h.metrics.ObserveTransition("purchase_order", "receive", err)
	if err != nil {
		h.logger.Error("receive purchase order", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	totals, _ := po.Totals(items)
	httpx.JSON(w, http.StatusOK, toOrderResponse(po, items, totals))
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
	po, err := h.service.Cancel(r.Context(), actor, parseID(r), req.Reason)
	h.metrics.ObserveTransition("purchase_order", "cancel", err)
	if err != nil {
		h.logger.Error("cancel purchase order", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(po, nil, money.Totals{}))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, parseID(r)); err != nil {
		h.logger.Error("delete purchase order", slog.Any("error", err), slog.Int64("id", parseID(r)))
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
	httpx.JSON(w, http.StatusOK, stats)
}
