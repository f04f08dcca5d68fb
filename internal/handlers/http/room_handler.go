package http

import (
	"net/http"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
	"roomnet/internal/core/services"
	apperrors "roomnet/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StreamFactory opens a local capture source of the given kind. Bound to the
// transport in use; the handler never touches media directly.
type StreamFactory func(kind domain.StreamKind) (ports.LocalStream, error)

// RoomHandler is the agent's local control surface. It drives one Room and
// is not meant to be exposed beyond the host machine.
type RoomHandler struct {
	room    *services.Room
	streams StreamFactory
	logger  *zap.SugaredLogger
}

func NewRoomHandler(room *services.Room, streams StreamFactory, logger *zap.SugaredLogger) *RoomHandler {
	return &RoomHandler{room: room, streams: streams, logger: logger}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/room")
	{
		api.POST("/join", h.Join)
		api.POST("/leave", h.Leave)
		api.GET("/status", h.Status)
		api.GET("/participants", h.Participants)

		api.POST("/hand", h.SetHand)
		api.POST("/mute", h.SetMute)
		api.POST("/react", h.React)

		api.POST("/chat", h.SendChat)
		api.GET("/chat", h.ChatHistory)

		api.POST("/camera/start", h.StartCamera)
		api.POST("/camera/stop", h.StopCamera)
		api.POST("/screen/start", h.StartScreen)
		api.POST("/screen/stop", h.StopScreen)

		api.GET("/knocks", h.PendingKnocks)
		api.POST("/knocks/respond", h.RespondKnock)
	}
}

type joinRequest struct {
	MeetingID string `json:"meeting_id" binding:"max=100"`
}

func (h *RoomHandler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	phase, err := h.room.Join(c.Request.Context(), domain.MeetingID(req.MeetingID))
	if err == domain.ErrAdmissionDenied {
		c.JSON(http.StatusForbidden, gin.H{"phase": string(phase), "error": "admission denied"})
		return
	}
	if err != nil {
		c.Error(apperrors.NewInternalError("join failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"phase":      string(phase),
		"meeting_id": string(h.room.Admission.Meeting()),
	})
}

func (h *RoomHandler) Leave(c *gin.Context) {
	h.room.Leave(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *RoomHandler) Status(c *gin.Context) {
	local := h.room.Presence.LocalState()
	c.JSON(http.StatusOK, gin.H{
		"phase":        string(h.room.Admission.Phase()),
		"meeting_id":   string(h.room.Admission.Meeting()),
		"active":       h.room.Active(),
		"sessions":     h.room.Sessions.Peers(),
		"call_handles": h.room.Media.OpenHandles(),
		"hand_raised":  local.HandRaised,
		"muted":        local.Muted,
	})
}

func (h *RoomHandler) Participants(c *gin.Context) {
	list := h.room.Directory.Participants()
	out := make([]gin.H, 0, len(list))
	for _, p := range list {
		state := h.room.Presence.PeerState(p.ID)
		out = append(out, gin.H{
			"info":        domain.InfoOf(p),
			"connected":   h.room.Sessions.Open(p.ID),
			"hand_raised": state.HandRaised,
			"muted":       state.Muted,
			"speaking":    state.Speaking,
		})
	}
	c.JSON(http.StatusOK, out)
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (h *RoomHandler) SetHand(c *gin.Context) {
	var req flagRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	h.room.Presence.SetHandRaised(req.Value)
	c.JSON(http.StatusOK, gin.H{"hand_raised": req.Value})
}

func (h *RoomHandler) SetMute(c *gin.Context) {
	var req flagRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	h.room.Presence.SetMuted(req.Value)
	c.JSON(http.StatusOK, gin.H{"muted": req.Value})
}

type reactRequest struct {
	Symbol string `json:"symbol" binding:"required,max=16"`
}

func (h *RoomHandler) React(c *gin.Context) {
	var req reactRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	h.room.Presence.React(req.Symbol)
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type chatRequest struct {
	Kind string `json:"kind" binding:"omitempty,oneof=text stats"`
	Body string `json:"body" binding:"required,max=4096"`
}

func (h *RoomHandler) SendChat(c *gin.Context) {
	var req chatRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	kind := domain.ChatKind(req.Kind)
	if kind == "" {
		kind = domain.ChatText
	}
	h.room.SendChat(kind, req.Body)
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (h *RoomHandler) ChatHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.room.ChatHistory())
}

func (h *RoomHandler) StartCamera(c *gin.Context) {
	h.startStream(c, domain.StreamCamera)
}

func (h *RoomHandler) StopCamera(c *gin.Context) {
	h.room.Media.StopLocal(domain.StreamCamera)
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *RoomHandler) StartScreen(c *gin.Context) {
	h.startStream(c, domain.StreamScreen)
}

func (h *RoomHandler) StopScreen(c *gin.Context) {
	h.room.Media.StopLocal(domain.StreamScreen)
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *RoomHandler) startStream(c *gin.Context, kind domain.StreamKind) {
	stream, err := h.streams(kind)
	if err != nil {
		h.logger.Errorw("capture open failed", "kind", kind, "error", err)
		c.Error(apperrors.NewInternalError("failed to open capture"))
		return
	}
	h.room.Media.SetLocal(c.Request.Context(), stream)
	c.JSON(http.StatusOK, gin.H{"status": "started", "stream_id": stream.ID()})
}

func (h *RoomHandler) PendingKnocks(c *gin.Context) {
	knocks, err := h.room.Admission.PendingKnocks(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to load knocks"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"knocking": knocks})
}

type respondKnockRequest struct {
	UserID string `json:"user_id" binding:"required,max=100"`
	Action string `json:"action" binding:"required,oneof=admit deny"`
}

func (h *RoomHandler) RespondKnock(c *gin.Context) {
	var req respondKnockRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	err := h.room.Admission.Respond(c.Request.Context(), domain.PeerID(req.UserID), domain.RespondAction(req.Action))
	if err != nil {
		c.Error(apperrors.NewInternalError("respond failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "answered"})
}
