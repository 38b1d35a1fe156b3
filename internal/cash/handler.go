package cash

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

// Handler wires cash endpoints: collections, deposits, reconciliations.
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

// MountRoutes registers cash routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/collections", func(r chi.Router) {
		r.Get("/", h.listCollections)
		r.Post("/", h.createCollection)
	})
	r.Route("/deposits", func(r chi.Router) {
		r.Get("/", h.listDeposits)
		r.Post("/", h.createDeposit)
		r.Post("/{id}/confirm", h.confirmDeposit)
	})
	r.Route("/reconciliations", func(r chi.Router) {
		r.Get("/", h.listReconciliations)
		r.Post("/", h.createReconciliation)
		r.Get("/{id}", h.getReconciliation)
		r.Post("/{id}/approve", h.approveReconciliation)
	})
}

type collectionRequest struct {
	AgentID     int64           `json:"agent_id" validate:"required"`
	CustomerID  int64           `json:"customer_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	CollectedAt string          `json:"collected_at"`
	Notes       string          `json:"notes"`
}

type depositRequest struct {
	AgentID       int64   `json:"agent_id" validate:"required"`
	CollectionIDs []int64 `json:"collection_ids" validate:"required,min=1"`
	BankRef       string  `json:"bank_ref"`
	DepositedAt   string  `json:"deposited_at"`
}

type reconciliationRequest struct {
	AgentID        int64           `json:"agent_id" validate:"required"`
	Date           string          `json:"date"`
	ExpectedCash   decimal.Decimal `json:"expected_cash"`
	DeriveExpected bool            `json:"derive_expected"`
	ActualCash     decimal.Decimal `json:"actual_cash"`
	Notes          string          `json:"notes"`
}

type collectionResponse struct {
	ID          int64            `json:"id"`
	Number      string           `json:"number"`
	AgentID     int64            `json:"agent_id"`
	CustomerID  int64            `json:"customer_id"`
	Amount      decimal.Decimal  `json:"amount"`
	CollectedAt time.Time        `json:"collected_at"`
	Status      CollectionStatus `json:"status"`
	DepositID   int64            `json:"deposit_id,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

type depositResponse struct {
	ID            int64           `json:"id"`
	Number        string          `json:"number"`
	AgentID       int64           `json:"agent_id"`
	Amount        decimal.Decimal `json:"amount"`
	AmountDisplay string          `json:"amount_display"`
	BankRef       string          `json:"bank_ref,omitempty"`
	DepositedAt   time.Time       `json:"deposited_at"`
	Status        DepositStatus   `json:"status"`
}

type reconciliationResponse struct {
	ID           int64                `json:"id"`
	Number       string               `json:"number"`
	AgentID      int64                `json:"agent_id"`
	Date         time.Time            `json:"date"`
	ExpectedCash decimal.Decimal      `json:"expected_cash"`
	ActualCash   decimal.Decimal      `json:"actual_cash"`
	Variance     decimal.Decimal      `json:"variance"`
	Status       ReconciliationStatus `json:"status"`
	Notes        string               `json:"notes,omitempty"`
}

func toCollectionResponse(c Collection) collectionResponse {
	return collectionResponse{
		ID:          c.ID,
		Number:      c.Number,
		AgentID:     c.AgentID,
		CustomerID:  c.CustomerID,
		Amount:      c.Amount,
		CollectedAt: c.CollectedAt,
		Status:      c.Status,
		DepositID:   c.DepositID,
		Notes:       c.Notes,
	}
}

func toDepositResponse(d Deposit) depositResponse {
	return depositResponse{
		ID:            d.ID,
		Number:        d.Number,
		AgentID:       d.AgentID,
		Amount:        d.Amount,
		AmountDisplay: money.FormatAmount(d.Amount),
		BankRef:       d.BankRef,
		DepositedAt:   d.DepositedAt,
		Status:        d.Status,
	}
}

func toReconciliationResponse(rec Reconciliation) reconciliationResponse {
	return reconciliationResponse{
		ID:           rec.ID,
		Number:       rec.Number,
		AgentID:      rec.AgentID,
		Date:         rec.Date,
		ExpectedCash: rec.ExpectedCash,
		ActualCash:   rec.ActualCash,
		Variance:     rec.Variance,
		Status:       rec.Status,
		Notes:        rec.Notes,
	}
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

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	filter := CollectionFilter{Status: CollectionStatus(r.URL.Query().Get("status"))}
	filter.AgentID, _ = strconv.ParseInt(r.URL.Query().Get("agent_id"), 10, 64)

	items, err := h.service.ListCollections(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list collections", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]collectionResponse, 0, len(items))
	for _, c := range items {
		out = append(out, toCollectionResponse(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"collections": out})
}

func (h *Handler) createCollection(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req collectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	c, err := h.service.CreateCollection(r.Context(), actor, CollectionInput{
		AgentID:     req.AgentID,
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		CollectedAt: parseDate(req.CollectedAt),
		Notes:       req.Notes,
	})
	if err != nil {
		h.logger.Error("create collection", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCollectionResponse(c))
}

func (h *Handler) listDeposits(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListDeposits(r.Context(), actor)
	if err != nil {
		h.logger.Error("list deposits", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]depositResponse, 0, len(items))
	for _, d := range items {
		out = append(out, toDepositResponse(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deposits": out})
}

func (h *Handler) createDeposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	d, err := h.service.CreateDeposit(r.Context(), actor, DepositInput{
		AgentID:       req.AgentID,
		CollectionIDs: req.CollectionIDs,
		BankRef:       req.BankRef,
		DepositedAt:   parseDate(req.DepositedAt),
	})
	if err != nil {
		h.logger.Error("create deposit", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDepositResponse(d))
}

func (h *Handler) confirmDeposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	d, err := h.service.ConfirmDeposit(r.Context(), actor, parseID(r))
	h.metrics.ObserveTransition("cash_deposit", "confirm", err)
	if err != nil {
		h.logger.Error("confirm deposit", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDepositResponse(d))
}

func (h *Handler) listReconciliations(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListReconciliations(r.Context(), actor)
	if err != nil {
		h.logger.Error("list reconciliations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]reconciliationResponse, 0, len(items))
	for _, rec := range items {
		out = append(out, toReconciliationResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reconciliations": out})
}

func (h *Handler) createReconciliation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req reconciliationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.CreateReconciliation(r.Context(), actor, ReconciliationInput{
		AgentID:        req.AgentID,
		Date:           parseDate(req.Date),
		ExpectedCash:   req.ExpectedCash,
		DeriveExpected: req.DeriveExpected,
		ActualCash:     req.ActualCash,
		Notes:          req.Notes,
	})
	if err != nil {
		h.logger.Error("create reconciliation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReconciliationResponse(rec))
}

func (h *Handler) getReconciliation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetReconciliation(r.Context(), actor, parseID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReconciliationResponse(rec))
}

func (h *Handler) approveReconciliation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rec, err := h.service.ApproveReconciliation(r.Context(), actor, parseID(r))
	h.metrics.ObserveTransition("cash_reconciliation", "approve", err)
	if err != nil {
		h.logger.Error("approve reconciliation", slog.Any("error", err), slog.Int64("id", parseID(r)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReconciliationResponse(rec))
}
