package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"presencecore/collab"
	"presencecore/config"
	"presencecore/grid"
	"presencecore/presence"
	"presencecore/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	orchestrators map[collab.PresenceID]*presence.Orchestrator
}

func (r fakeRegistry) Orchestrators() map[collab.PresenceID]*presence.Orchestrator {
	return r.orchestrators
}

func (r fakeRegistry) Orchestrator(id collab.PresenceID) (*presence.Orchestrator, bool) {
	o, ok := r.orchestrators[id]
	return o, ok
}

type noopResolver struct{}

func (noopResolver) ResolveRegionURL(handle collab.RegionHandle) (string, bool) { return "", false }

func newTestRouter(t *testing.T) (*mux.Router, fakeRegistry, *grid.Service) {
	t.Helper()
	p := presence.New("avatar-1", "Ada", "Lovelace", presence.KindHuman, uuid.New(), 0, 256, 256, presence.Config{
		MinDrawDistance: 32, MaxDrawDistance: 512, MinRegionView: 32, MaxRegionView: 512,
	})
	orch := presence.NewOrchestrator(p, presence.Deps{})
	registry := fakeRegistry{orchestrators: map[collab.PresenceID]*presence.Orchestrator{"avatar-1": orch}}

	gridSvc := grid.NewService(noopResolver{}, []byte("secret"))

	r := mux.NewRouter()
	SetupRoutes(r, registry, transport.NewWebSocketSink(config.WebSocketConfig{}), transport.NewWebRTCSink(), gridSvc)
	return r, registry, gridSvc
}

func TestHealthzReturnsOK(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListPresencesReturnsRegisteredPresence(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/presences", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "avatar-1")
}

func TestGetPresenceReturnsNotFoundForUnknownID(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/presences/ghost", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseChildAgentRejectsMissingBearer(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/grid/child-agents/close", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCloseChildAgentRejectsInvalidBearer(t *testing.T) {
	r, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/grid/child-agents/close", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCloseChildAgentSucceedsWithValidTokenAndKnownPresence(t *testing.T) {
	r, _, gridSvc := newTestRouter(t)
	token, err := gridSvc.MintNeighbourToken("avatar-1", 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/grid/child-agents/close", strings.NewReader(`{"presence_id":"avatar-1"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
