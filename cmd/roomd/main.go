package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
	"roomnet/internal/core/services"
	httphandlers "roomnet/internal/handlers/http"
	"roomnet/internal/infrastructure/membership/restclient"
	"roomnet/internal/infrastructure/middleware"
	"roomnet/internal/infrastructure/monitoring"
	"roomnet/internal/infrastructure/transport/pion"
	"roomnet/pkg/config"
	"roomnet/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/roomnet/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	selfID := domain.PeerID(cfg.Agent.PeerID)
	if selfID == "" {
		selfID = domain.PeerID(uuid.NewString())
	}
	displayName := cfg.Agent.DisplayName
	if displayName == "" {
		displayName = string(selfID)
	}

	// ICE servers from config, Google STUN as fallback
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{"stun:stun.l.google.com:19302"},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect the transport to the signaling relay
	transportCfg := pion.Config{
		RelayURL:   cfg.Agent.RelayURL,
		ICEServers: iceServers,
	}
	transportCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	transportCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	endpoint, err := pion.NewEndpoint(ctx, selfID, transportCfg, log)
	if err != nil {
		log.Fatalw("failed to create transport endpoint", "error", err, "relay_url", cfg.Agent.RelayURL)
	}

	membershipClient := restclient.New(cfg.Agent.MeetingAPIURL, cfg.Agent.Token, log)

	var metrics ports.MeshMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	} else {
		metrics = monitoring.Nop{}
	}

	self := domain.Participant{
		ID:          selfID,
		DisplayName: displayName,
	}

	room := services.NewRoom(self, endpoint, membershipClient, services.RoomConfig{
		PollInterval:  cfg.Agent.PollInterval,
		SweepInterval: cfg.Agent.SweepInterval,
		ReactionTTL:   cfg.Agent.ReactionTTL,
	}, metrics, log)

	streamFactory := func(kind domain.StreamKind) (ports.LocalStream, error) {
		switch kind {
		case domain.StreamScreen:
			return pion.NewScreenStream(uuid.NewString())
		default:
			return pion.NewCameraStream(uuid.NewString())
		}
	}

	roomHandler := httphandlers.NewRoomHandler(room, streamFactory, log)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	router.Use(middleware.ErrorHandlerMiddleware(log))

	roomHandler.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"peer_id": string(selfID),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:         cfg.Agent.ControlAddress,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting room agent", "peer_id", selfID, "control_address", cfg.Agent.ControlAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down room agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Leave the meeting cleanly before tearing down the control server so
	// peers see a departure instead of a dead connection.
	leaveCtx, leaveCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	room.Leave(leaveCtx)
	leaveCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
	}

	if err := endpoint.Close(); err != nil {
		log.Errorw("Error closing transport endpoint", "error", err)
	}

	log.Info("Room agent stopped")
}
