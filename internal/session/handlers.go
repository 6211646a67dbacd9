package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/obs"
)

// Control performs session mutations on the backbone.
type Control interface {
	OpenSession(ctx context.Context, locationID string, openingBalances map[string]int64) (*backbone.Session, error)
	CloseSession(ctx context.Context, locationID string, closingBalances map[string]int64) error
}

// Handler exposes the session guard and open/close endpoints.
type Handler struct {
	Loader   Loader
	Control  Control
	Bus      *events.Bus
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type openRequest struct {
	LocationID      string           `json:"locationId" validate:"required"`
	OpeningBalances map[string]int64 `json:"openingBalances" validate:"required,dive,gte=0"`
}

type closeRequest struct {
	LocationID      string           `json:"locationId" validate:"required"`
	ClosingBalances map[string]int64 `json:"closingBalances" validate:"required,dive,gte=0"`
}

// Guard handles GET /api/v1/sessions/guard. It recomputes the verdict from a
// fresh projection on every call; clients poll it as session state changes.
func (h *Handler) Guard(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	action := Action(r.URL.Query().Get("action"))
	switch action {
	case ActionOpen, ActionTransact, ActionClose:
	case "":
		action = ActionTransact
	default:
		common.WriteError(w, common.ValidationError("INVALID_ACTION", "action must be open, transact, or close"))
		return
	}
	projection, err := h.Loader.Load(r.Context(), actor, r.URL.Query().Get("locationId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	result := Evaluate(actor, action, projection)
	if !result.Allowed {
		recordDenial(result.Reason)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Open handles POST /api/v1/sessions/open.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	var req openRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.ValidationError("VALIDATION", err.Error()))
		return
	}
	projection, err := h.Loader.Load(r.Context(), actor, req.LocationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if result := Evaluate(actor, ActionOpen, projection); !result.Allowed {
		recordDenial(result.Reason)
		common.WriteError(w, guardError(result))
		return
	}
	ses, err := h.Control.OpenSession(r.Context(), req.LocationID, req.OpeningBalances)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.Bus != nil && ses != nil {
		if _, err := h.Bus.Emit(r.Context(), events.TopicSessionOpened, ses.ID, ses); err != nil {
			h.Logger.Warn().Err(err).Msg("emit session.opened")
		}
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": ses})
}

// Close handles POST /api/v1/sessions/close. Only the owner closes a session;
// a privileged actor sees a foreign session as read-only.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor", nil)
		return
	}
	var req closeRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.ValidationError("VALIDATION", err.Error()))
		return
	}
	projection, err := h.Loader.Load(r.Context(), actor, req.LocationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if result := Evaluate(actor, ActionClose, projection); !result.Allowed {
		recordDenial(result.Reason)
		common.WriteError(w, guardError(result))
		return
	}
	if err := h.Control.CloseSession(r.Context(), req.LocationID, req.ClosingBalances); err != nil {
		h.writeError(w, err)
		return
	}
	if h.Bus != nil {
		if _, err := h.Bus.Emit(r.Context(), events.TopicSessionClosed, req.LocationID, req); err != nil {
			h.Logger.Warn().Err(err).Msg("emit session.closed")
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{"status": "closed"}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var remote *backbone.RemoteError
	if errors.As(err, &remote) {
		common.JSONError(w, remote.StatusCode, remote.Code, remote.Message, nil)
		return
	}
	h.Logger.Error().Err(err).Msg("session request failed")
	common.WriteError(w, err)
}

func guardError(result Result) *common.AppError {
	message := "action not allowed in current session state"
	switch result.Reason {
	case ReasonNoActiveSession:
		message = "no active session for this actor"
	case ReasonSessionAlreadyOpen:
		message = "a session is already open at this location"
	case ReasonSessionOwnedByOther:
		message = "another actor holds the open session at this location"
	}
	appErr := common.NewAppError(result.Reason, message, http.StatusConflict, nil)
	if result.BlockedBy != nil {
		appErr.Details = result.BlockedBy
	}
	return appErr
}

func recordDenial(reason string) {
	if obs.GuardDenialsTotal != nil {
		obs.GuardDenialsTotal.WithLabelValues(reason).Inc()
	}
}
