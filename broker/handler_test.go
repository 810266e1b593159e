package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/wxlim/dealbroker/domain"
	"github.com/wxlim/dealbroker/llm"
)

func TestStartEndpointRunsNegotiation(t *testing.T) {
	buyerScript := []string{
		`{"action":"counter","price":1750,"rationale":"r","transcript_response":"t"}`,
	}
	sellerScript := []string{
		`{"action":"counter","price":1999,"rationale":"r","transcript_response":"t"}`,
		`{"action":"counter","price":1799.10,"rationale":"r","transcript_response":"t"}`,
	}
	n := newTestStack(t, buyerScript, sellerScript, stubConcluder{conclusion: llm.FallbackConclusion()})
	h := NewHandler(n)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/start", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Start(c)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap domain.Snapshot
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, domain.SessionStatusCompleted, snap.Status)
	assert.NotNil(t, snap.Artifact)
	assert.NotEmpty(t, snap.SessionID)
	assert.NotEmpty(t, snap.Transcript)
}

func TestGetSessionFromRegistry(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})
	sess := n.registry.Create()
	sess.Append(domain.Message{Role: "MayLim", Content: "hello"})

	h := NewHandler(n)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/sessions/:session_id")
	c.SetParamNames("session_id")
	c.SetParamValues(sess.ID())

	assert.NoError(t, h.GetSession(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap domain.Snapshot
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, sess.ID(), snap.SessionID)
	assert.Len(t, snap.Transcript, 1)
}

func TestGetSessionFallsBackToStore(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})

	// Persisted but not in the registry, as after a restart.
	err := n.store.SaveTranscript(context.Background(), "sess_old", domain.SessionStatusCompleted, []domain.Message{
		{Role: "Kumar", Content: "Offer: $1899.00"},
	})
	assert.NoError(t, err)

	h := NewHandler(n)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/sessions/:session_id")
	c.SetParamNames("session_id")
	c.SetParamValues("sess_old")

	assert.NoError(t, h.GetSession(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap domain.Snapshot
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, domain.SessionStatusCompleted, snap.Status)
}

func TestGetSessionNotFound(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})
	h := NewHandler(n)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/sessions/:session_id")
	c.SetParamNames("session_id")
	c.SetParamValues("nope")

	assert.NoError(t, h.GetSession(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessionsMergesStoreAndRegistry(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})
	live := n.registry.Create()
	assert.NoError(t, n.store.SaveTranscript(context.Background(), "sess_old", domain.SessionStatusError, nil))
	// A session both live and persisted must appear once.
	assert.NoError(t, n.store.SaveTranscript(context.Background(), live.ID(), domain.SessionStatusCompleted, nil))

	h := NewHandler(n)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assert.NoError(t, h.ListSessions(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []string `json:"sessions"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)
	assert.Contains(t, resp.Sessions, live.ID())
	assert.Contains(t, resp.Sessions, "sess_old")
}

func TestResetSessionEndpoint(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})
	sess := n.registry.Create()
	sess.setStatus(domain.SessionStatusError)
	sess.Append(domain.Message{Role: "broker", Content: "Cannot proceed"})

	h := NewHandler(n)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/sessions/:session_id/reset")
	c.SetParamNames("session_id")
	c.SetParamValues(sess.ID())

	assert.NoError(t, h.ResetSession(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap domain.Snapshot
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, domain.SessionStatusIdle, snap.Status)
	assert.Empty(t, snap.Transcript)
}

func TestResetAllEndpoint(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})
	n.registry.Create()
	n.registry.Create()

	h := NewHandler(n)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assert.NoError(t, h.ResetAll(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, n.registry.List())
}
