package sale

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler exposes the transaction-assembly endpoints.
type Handler struct {
	Service  *Service
	Sources  backbone.FundSourceLister
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// Routes mounts the sale endpoints on the router. The auth middleware has
// already populated the actor by the time these run.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/transactions", h.Open)
	r.Route("/transactions/{txID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Cancel)
		r.Post("/scan", h.Scan)
		r.Post("/submit", h.Submit)
		r.Put("/items/{index}", h.SetItem)
		r.Patch("/items/{index}", h.UpdateItem)
		r.Delete("/items/{index}", h.RemoveItem)
		r.Post("/tenders", h.AddTender)
		r.Delete("/tenders/{index}", h.RemoveTender)
	})
	r.Get("/fund-sources", h.FundSources)
}

type openTxRequest struct {
	LocationID string `json:"locationId"`
}

type scanRequest struct {
	Token string `json:"token" validate:"required"`
}

type setItemRequest struct {
	Code string `json:"code" validate:"required"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"required"`
}

// Open handles POST /api/v1/transactions.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	var req openTxRequest
	if r.ContentLength > 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	view, err := h.Service.Open(r.Context(), actor, req.LocationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// Get handles GET /api/v1/transactions/{txID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.withTx(w, r, func(ctx context.Context, actor common.Actor, txID string) (any, int, error) {
		view, err := h.Service.Get(ctx, actor, txID)
		return view, http.StatusOK, err
	})
}

// Scan handles POST /api/v1/transactions/{txID}/scan. It acknowledges the
// token immediately; resolution happens on the drain loop.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	var req scanRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.ValidationError("VALIDATION", err.Error()))
		return
	}
	if err := h.Service.Scan(r.Context(), actor, chi.URLParam(r, "txID"), req.Token); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{"data": map[string]string{"status": "queued"}})
}

// SetItem handles PUT /api/v1/transactions/{txID}/items/{index}. The manual
// counterpart of scanning: the operator keys an item code into a slot.
func (h *Handler) SetItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	index, err := indexParam(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req setItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.ValidationError("VALIDATION", err.Error()))
		return
	}
	view, err := h.Service.SetItem(r.Context(), actor, chi.URLParam(r, "txID"), index, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// UpdateItem handles PATCH /api/v1/transactions/{txID}/items/{index}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	index, err := indexParam(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req updateItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.ValidationError("VALIDATION", err.Error()))
		return
	}
	view, err := h.Service.SetQuantity(r.Context(), actor, chi.URLParam(r, "txID"), index, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// RemoveItem handles DELETE /api/v1/transactions/{txID}/items/{index}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	index, err := indexParam(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	view, err := h.Service.RemoveItem(r.Context(), actor, chi.URLParam(r, "txID"), index)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// AddTender handles POST /api/v1/transactions/{txID}/tenders.
func (h *Handler) AddTender(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	var req TenderRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.ValidationError("VALIDATION", err.Error()))
		return
	}
	view, err := h.Service.AddTender(r.Context(), actor, chi.URLParam(r, "txID"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// RemoveTender handles DELETE /api/v1/transactions/{txID}/tenders/{index}.
func (h *Handler) RemoveTender(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	index, err := indexParam(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	view, err := h.Service.RemoveTender(r.Context(), actor, chi.URLParam(r, "txID"), index)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Submit handles POST /api/v1/transactions/{txID}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.withTx(w, r, func(ctx context.Context, actor common.Actor, txID string) (any, int, error) {
		record, err := h.Service.Submit(ctx, actor, txID)
		return record, http.StatusOK, err
	})
}

// Cancel handles DELETE /api/v1/transactions/{txID}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withTx(w, r, func(ctx context.Context, actor common.Actor, txID string) (any, int, error) {
		err := h.Service.Cancel(ctx, actor, txID)
		return map[string]string{"status": "canceled"}, http.StatusOK, err
	})
}

// FundSources handles GET /api/v1/fund-sources. Operators pick defaults from
// this list when prefilling tenders.
func (h *Handler) FundSources(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	locationID := r.URL.Query().Get("locationId")
	if locationID == "" {
		locationID = actor.LocationID
	}
	if locationID == "" {
		common.WriteError(w, common.ValidationError("MISSING_LOCATION", "locationId is required for privileged actors"))
		return
	}
	sources, err := h.Sources.FundSources(r.Context(), locationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sources})
}

func (h *Handler) withTx(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor common.Actor, txID string) (any, int, error)) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	data, status, err := fn(r.Context(), actor, chi.URLParam(r, "txID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, status, map[string]any{"data": data})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var remote *backbone.RemoteError
	if errors.As(err, &remote) {
		common.JSONError(w, remote.StatusCode, remote.Code, remote.Message, nil)
		return
	}
	if _, ok := common.AsAppError(err); !ok {
		h.Logger.Error().Err(err).Msg("sale request failed")
	}
	common.WriteError(w, err)
}

func indexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, common.ValidationError("INVALID_INDEX", "index must be a non-negative integer")
	}
	return index, nil
}
