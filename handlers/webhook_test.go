package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/config"
	"github.com/tcprescott/sahabot2/handlers"
	"github.com/tcprescott/sahabot2/racing"
)

type fakeReconciler struct {
	entrants []racing.Entrant
	statuses []string
}

func (f *fakeReconciler) EntrantEvent(_ context.Context, slug string, ent racing.Entrant) error {
	f.entrants = append(f.entrants, ent)
	return nil
}

func (f *fakeReconciler) RaceStatusEvent(_ context.Context, slug, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

type fakeJoinAccepter struct {
	accept bool
	asked  []string
}

func (f *fakeJoinAccepter) JoinRequest(_ context.Context, slug, externalUserID string) (bool, error) {
	f.asked = append(f.asked, externalUserID)
	return f.accept, nil
}

func webhookHandler(rec *fakeReconciler, join *fakeJoinAccepter) *handlers.Handler {
	return handlers.New(nil, nil, nil, nil, rec, join,
		config.NewLive(), zap.NewNop(), []byte("key"), "hook-secret")
}

func postEvent(t *testing.T, h *handlers.Handler, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/racing/events", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set("X-Racing-Secret", secret)
	}
	rr := httptest.NewRecorder()
	err := h.RacingEvents(e.NewContext(req, rr))
	if err != nil {
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		rr.Code = he.Code
	}
	return rr
}

func TestRacingEvents_BadSecretRejected(t *testing.T) {
	rec := &fakeReconciler{}
	h := webhookHandler(rec, &fakeJoinAccepter{})

	rr := postEvent(t, h, "wrong", `{"type":"entrant","room":"r","entrant":{"user_id":"u","status":"done"}}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rec.entrants)

	rr = postEvent(t, h, "", `{"type":"entrant","room":"r","entrant":{"user_id":"u","status":"done"}}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRacingEvents_DispatchesEntrant(t *testing.T) {
	rec := &fakeReconciler{}
	h := webhookHandler(rec, &fakeJoinAccepter{})

	rr := postEvent(t, h, "hook-secret",
		`{"type":"entrant","room":"alttpr-cute-doge-1234","entrant":{"user_id":"ajile#1234","status":"done","finish_seconds":3600}}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, rec.entrants, 1)
	assert.Equal(t, "ajile#1234", rec.entrants[0].UserID)
	assert.Equal(t, racing.EntrantDone, rec.entrants[0].Status)
	require.NotNil(t, rec.entrants[0].FinishSeconds)
	assert.Equal(t, 3600.0, *rec.entrants[0].FinishSeconds)
}

func TestRacingEvents_DispatchesRaceStatus(t *testing.T) {
	rec := &fakeReconciler{}
	h := webhookHandler(rec, &fakeJoinAccepter{})

	rr := postEvent(t, h, "hook-secret",
		`{"type":"race_status","room":"alttpr-cute-doge-1234","status":"cancelled"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"cancelled"}, rec.statuses)
}

func TestRacingEvents_JoinRequestAnswersAccepted(t *testing.T) {
	join := &fakeJoinAccepter{accept: true}
	h := webhookHandler(&fakeReconciler{}, join)

	rr := postEvent(t, h, "hook-secret",
		`{"type":"join_request","room":"alttpr-cute-doge-1234","entrant":{"user_id":"ajile#1234","status":"requested"}}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"accepted":true}`, rr.Body.String())
	assert.Equal(t, []string{"ajile#1234"}, join.asked)
}

func TestRacingEvents_RejectsMalformedEvents(t *testing.T) {
	h := webhookHandler(&fakeReconciler{}, &fakeJoinAccepter{})

	rr := postEvent(t, h, "hook-secret", `{"type":"entrant","room":"r"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "entrant event without entrant")

	rr = postEvent(t, h, "hook-secret", `{"type":"race_status"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "missing room")

	rr = postEvent(t, h, "hook-secret", `{"type":"mystery","room":"r"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "unknown type")
}
