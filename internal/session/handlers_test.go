package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/session"
)

type stubControl struct {
	opened  []string
	closed  []string
	session *backbone.Session
}

func (s *stubControl) OpenSession(_ context.Context, locationID string, _ map[string]int64) (*backbone.Session, error) {
	s.opened = append(s.opened, locationID)
	return s.session, nil
}

func (s *stubControl) CloseSession(_ context.Context, locationID string, _ map[string]int64) error {
	s.closed = append(s.closed, locationID)
	return nil
}

func newHandler(mock *backbone.Mock, control *stubControl) *session.Handler {
	return &session.Handler{
		Loader:   session.Loader{Source: mock},
		Control:  control,
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
	}
}

func doRequest(handler http.HandlerFunc, actor common.Actor, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(common.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestGuardEndpointReportsBlocker(t *testing.T) {
	mock := &backbone.Mock{
		ActorID: "admin",
		Sessions: []backbone.Session{{
			ID:           "ses-2",
			LocationID:   "loc-1",
			LocationName: "Sucursal Centro",
			OwnerActorID: "a2",
			OwnerName:    "Luis",
			IsOpen:       true,
		}},
	}
	handler := newHandler(mock, &stubControl{})
	actor := common.Actor{ID: "admin", Privileged: true}

	rec := doRequest(handler.Guard, actor, http.MethodGet, "/api/v1/sessions/guard?locationId=loc-1&action=transact", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data session.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Data.Allowed)
	require.Equal(t, session.ReasonSessionOwnedByOther, body.Data.Reason)
	require.NotNil(t, body.Data.BlockedBy)
	require.Equal(t, "a2", body.Data.BlockedBy.OwnerActorID)
}

func TestOpenEndpointBlockedOverForeignSession(t *testing.T) {
	mock := &backbone.Mock{
		ActorID: "admin",
		Sessions: []backbone.Session{{
			ID:           "ses-2",
			LocationID:   "loc-1",
			OwnerActorID: "a2",
			OwnerName:    "Luis",
			IsOpen:       true,
		}},
	}
	control := &stubControl{}
	handler := newHandler(mock, control)
	actor := common.Actor{ID: "admin", Privileged: true}

	rec := doRequest(handler.Open, actor, http.MethodPost, "/api/v1/sessions/open",
		`{"locationId":"loc-1","openingBalances":{"drawer-1":1000}}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Empty(t, control.opened, "backbone must not be called on a guard denial")

	// Once the foreign session is gone, opening goes through.
	mock.Sessions = nil
	rec = doRequest(handler.Open, actor, http.MethodPost, "/api/v1/sessions/open",
		`{"locationId":"loc-1","openingBalances":{"drawer-1":1000}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, []string{"loc-1"}, control.opened)
}

func TestCloseEndpointRequiresOwnSession(t *testing.T) {
	mock := &backbone.Mock{ActorID: "a1"}
	control := &stubControl{}
	handler := newHandler(mock, control)
	actor := common.Actor{ID: "a1", LocationID: "loc-1"}

	rec := doRequest(handler.Close, actor, http.MethodPost, "/api/v1/sessions/close",
		`{"locationId":"loc-1","closingBalances":{"drawer-1":900}}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Empty(t, control.closed)

	mock.Sessions = []backbone.Session{{
		ID: "ses-1", LocationID: "loc-1", OwnerActorID: "a1", IsOpen: true,
	}}
	rec = doRequest(handler.Close, actor, http.MethodPost, "/api/v1/sessions/close",
		`{"locationId":"loc-1","closingBalances":{"drawer-1":900}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"loc-1"}, control.closed)
}

func TestGuardRejectsUnknownAction(t *testing.T) {
	handler := newHandler(&backbone.Mock{ActorID: "a1"}, &stubControl{})
	actor := common.Actor{ID: "a1", LocationID: "loc-1"}

	rec := doRequest(handler.Guard, actor, http.MethodGet, "/api/v1/sessions/guard?action=destroy", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
