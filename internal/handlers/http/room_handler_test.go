package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
	"roomnet/internal/core/services"
	"roomnet/internal/infrastructure/membership/local"
	"roomnet/internal/infrastructure/middleware"
	"roomnet/internal/infrastructure/monitoring"
	memrepo "roomnet/internal/infrastructure/repositories/memory"
	"roomnet/internal/infrastructure/transport/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// roomAPI is one agent's control surface over an in-process deployment.
type roomAPI struct {
	router *gin.Engine
	room   *services.Room
	client *local.Client
}

func newRoomAPI(t *testing.T, self domain.PeerID) *roomAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	profiles := memrepo.NewMemoryProfileRepository()
	meetings := services.NewMeetingService(memrepo.NewMemoryMeetingRepository(), profiles, logger)
	client := local.New(meetings, profiles, self)

	hub := memory.NewHub()
	room := services.NewRoom(
		domain.Participant{ID: self, DisplayName: string(self)},
		hub.Endpoint(self),
		client,
		services.RoomConfig{PollInterval: 20 * time.Millisecond, SweepInterval: 20 * time.Millisecond, ReactionTTL: 3 * time.Second},
		monitoring.Nop{},
		logger,
	)
	t.Cleanup(func() { room.Leave(context.Background()) })

	streams := func(kind domain.StreamKind) (ports.LocalStream, error) {
		return memory.NewLocalStream("test-"+string(kind), kind), nil
	}

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	NewRoomHandler(room, streams, logger).SetupRoutes(router)

	return &roomAPI{router: router, room: room, client: client}
}

func (api *roomAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	return w
}

func TestRoomJoin_SynthesizesMeeting(t *testing.T) {
	api := newRoomAPI(t, "trader")

	w := api.do(t, http.MethodPost, "/api/v1/room/join", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Phase     string `json:"phase"`
		MeetingID string `json:"meeting_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.MeetingID)
}

func TestRoomJoin_HostIsAccepted(t *testing.T) {
	api := newRoomAPI(t, "trader")

	id, err := api.client.Invite(context.Background(), "someone")
	require.NoError(t, err)

	w := api.do(t, http.MethodPost, "/api/v1/room/join", gin.H{"meeting_id": string(id)})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Phase string `json:"phase"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Phase)

	require.Eventually(t, api.room.Active, 2*time.Second, 10*time.Millisecond)
}

func TestRoomStatus(t *testing.T) {
	api := newRoomAPI(t, "trader")

	w := api.do(t, http.MethodGet, "/api/v1/room/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Phase  string `json:"phase"`
		Active bool   `json:"active"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "none", resp.Phase)
	assert.False(t, resp.Active)
}

func TestRoomHandAndMute(t *testing.T) {
	api := newRoomAPI(t, "trader")

	w := api.do(t, http.MethodPost, "/api/v1/room/hand", gin.H{"value": true})
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/room/mute", gin.H{"value": true})
	require.Equal(t, http.StatusOK, w.Code)

	state := api.room.Presence.LocalState()
	assert.True(t, state.HandRaised)
	assert.True(t, state.Muted)
}

func TestRoomChat(t *testing.T) {
	api := newRoomAPI(t, "trader")

	w := api.do(t, http.MethodPost, "/api/v1/room/chat", gin.H{"body": "SPY looking heavy"})
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/room/chat", gin.H{"kind": "stats", "body": `{"pnl":120}`})
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/room/chat", nil)
	require.Equal(t, http.StatusOK, w.Code)

	history := api.room.ChatHistory()
	require.Len(t, history, 2)
	assert.Equal(t, domain.ChatText, history[0].Kind)
	assert.Equal(t, domain.ChatStats, history[1].Kind)
}

func TestRoomChat_RejectsUnknownKind(t *testing.T) {
	api := newRoomAPI(t, "trader")
	w := api.do(t, http.MethodPost, "/api/v1/room/chat", gin.H{"kind": "gif", "body": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomCameraLifecycle(t *testing.T) {
	api := newRoomAPI(t, "trader")

	w := api.do(t, http.MethodPost, "/api/v1/room/camera/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		StreamID string `json:"stream_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test-camera", resp.StreamID)

	w = api.do(t, http.MethodPost, "/api/v1/room/camera/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoomReact_RequiresSymbol(t *testing.T) {
	api := newRoomAPI(t, "trader")
	w := api.do(t, http.MethodPost, "/api/v1/room/react", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomLeave(t *testing.T) {
	api := newRoomAPI(t, "trader")

	api.do(t, http.MethodPost, "/api/v1/room/join", gin.H{})
	w := api.do(t, http.MethodPost, "/api/v1/room/leave", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, api.room.Active())
}
