package http

import (
	"errors"
	"net/http"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
	apperrors "roomnet/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MeetingMetrics is the slice of the collector the meeting handler records
// through. Nil disables recording.
type MeetingMetrics interface {
	RecordMeetingCreated()
	RecordAdmission(action domain.RespondAction)
	SetParticipantCount(id domain.MeetingID, count int)
}

type MeetingHandler struct {
	meetings ports.MeetingService
	profiles ports.ProfileRepository
	metrics  MeetingMetrics
	logger   *zap.SugaredLogger
}

func NewMeetingHandler(meetings ports.MeetingService, profiles ports.ProfileRepository, metrics MeetingMetrics, logger *zap.SugaredLogger) *MeetingHandler {
	return &MeetingHandler{
		meetings: meetings,
		profiles: profiles,
		metrics:  metrics,
		logger:   logger,
	}
}

func (h *MeetingHandler) SetupRoutes(router *gin.Engine, authMW gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(authMW)
	{
		api.GET("/meetings/:id", h.GetMeeting)
		api.POST("/meetings/:id/knock", h.Knock)
		api.POST("/meetings/:id/respond", h.Respond)
		api.GET("/meetings/:id/participants", h.Participants)
		api.POST("/meetings/:id/join", h.Join)
		api.POST("/meetings/:id/leave", h.Leave)
		api.POST("/invite-room", h.Invite)
		api.GET("/users/:id/info", h.UserInfo)
	}
}

type meetingResponse struct {
	ID            string    `json:"id"`
	HostID        string    `json:"host_id"`
	InviteeID     string    `json:"invitee_id,omitempty"`
	Status        string    `json:"status"`
	KnockingUsers []string  `json:"knocking_users,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toMeetingResponse(m *domain.Meeting) meetingResponse {
	resp := meetingResponse{
		ID:        string(m.ID),
		HostID:    string(m.HostID),
		InviteeID: string(m.InviteeID),
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
	}
	for _, u := range m.KnockingUsers {
		resp.KnockingUsers = append(resp.KnockingUsers, string(u))
	}
	return resp
}

func (h *MeetingHandler) GetMeeting(c *gin.Context) {
	id := domain.MeetingID(c.Param("id"))

	m, err := h.meetings.Get(c.Request.Context(), id)
	if errors.Is(err, domain.ErrMeetingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to load meeting"))
		return
	}

	c.JSON(http.StatusOK, toMeetingResponse(m))
}

type knockRequest struct {
	UserID string `json:"user_id" binding:"required,max=100"`
}

func (h *MeetingHandler) Knock(c *gin.Context) {
	var req knockRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	id := domain.MeetingID(c.Param("id"))
	m, err := h.meetings.Knock(c.Request.Context(), id, domain.PeerID(req.UserID))
	if err != nil {
		c.Error(apperrors.NewInternalError("knock failed"))
		return
	}

	c.JSON(http.StatusOK, toMeetingResponse(m))
}

type respondRequest struct {
	UserID string `json:"user_id" binding:"required,max=100"`
	Action string `json:"action" binding:"required,oneof=admit deny"`
}

// Respond is host-only: the authenticated caller must own the meeting.
func (h *MeetingHandler) Respond(c *gin.Context) {
	var req respondRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	id := domain.MeetingID(c.Param("id"))
	caller, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	m, err := h.meetings.Get(c.Request.Context(), id)
	if errors.Is(err, domain.ErrMeetingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to load meeting"))
		return
	}
	if m.HostID != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the host can answer knocks"})
		return
	}

	action := domain.RespondAction(req.Action)
	m, err = h.meetings.Respond(c.Request.Context(), id, domain.PeerID(req.UserID), action)
	if errors.Is(err, domain.ErrNotKnocking) {
		c.JSON(http.StatusConflict, gin.H{"error": "user is not knocking"})
		return
	}
	if err != nil {
		c.Error(apperrors.NewInternalError("respond failed"))
		return
	}

	if h.metrics != nil {
		h.metrics.RecordAdmission(action)
	}
	c.JSON(http.StatusOK, toMeetingResponse(m))
}

func (h *MeetingHandler) Participants(c *gin.Context) {
	id := domain.MeetingID(c.Param("id"))

	list, err := h.meetings.Participants(c.Request.Context(), id)
	if errors.Is(err, domain.ErrMeetingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to load participants"))
		return
	}

	infos := make([]domain.ParticipantInfo, 0, len(list))
	for _, p := range list {
		infos = append(infos, domain.InfoOf(p))
	}
	if h.metrics != nil {
		h.metrics.SetParticipantCount(id, len(infos))
	}
	c.JSON(http.StatusOK, infos)
}

func (h *MeetingHandler) Join(c *gin.Context) {
	var info domain.ParticipantInfo
	if err := c.BindJSON(&info); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if info.ID == "" {
		c.Error(apperrors.NewInvalidInputError("participant id is required"))
		return
	}

	id := domain.MeetingID(c.Param("id"))
	if err := h.meetings.Join(c.Request.Context(), id, info.Participant()); err != nil {
		c.Error(apperrors.NewInternalError("join failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (h *MeetingHandler) Leave(c *gin.Context) {
	var req knockRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	id := domain.MeetingID(c.Param("id"))
	if err := h.meetings.Leave(c.Request.Context(), id, domain.PeerID(req.UserID)); err != nil {
		c.Error(apperrors.NewInternalError("leave failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

type inviteRequest struct {
	RecipientID string `json:"recipient_id" binding:"required,max=100"`
}

// Invite creates a meeting owned by the caller with the recipient marked as
// invitee, so the recipient's knock is admitted without host action.
func (h *MeetingHandler) Invite(c *gin.Context) {
	var req inviteRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	caller, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	m, err := h.meetings.Create(c.Request.Context(), caller, domain.PeerID(req.RecipientID))
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to create meeting"))
		return
	}

	if h.metrics != nil {
		h.metrics.RecordMeetingCreated()
	}
	c.JSON(http.StatusCreated, gin.H{"meeting_id": string(m.ID)})
}

func (h *MeetingHandler) UserInfo(c *gin.Context) {
	id := domain.PeerID(c.Param("id"))

	p, err := h.profiles.Get(c.Request.Context(), id)
	if errors.Is(err, domain.ErrPeerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to load profile"))
		return
	}

	c.JSON(http.StatusOK, domain.InfoOf(*p))
}

func callerID(c *gin.Context) (domain.PeerID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := val.(domain.PeerID)
	return id, ok
}
