package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shinyyama/estate-chat/internal/config"
	"github.com/shinyyama/estate-chat/internal/handler"
	"github.com/shinyyama/estate-chat/internal/identity"
	appmw "github.com/shinyyama/estate-chat/internal/middleware"
	"github.com/shinyyama/estate-chat/internal/realtime"
	"github.com/shinyyama/estate-chat/internal/repository"
	"github.com/shinyyama/estate-chat/internal/service"
	"gorm.io/gorm"
)

// Deps are the process-level collaborators the server is assembled from.
type Deps struct {
	DB    *gorm.DB
	Auth  *identity.Authenticator
	Users service.UserDirectory
	Log   *slog.Logger
	// Registry receives the realtime and runtime collectors. A fresh one is
	// created when nil.
	Registry *prometheus.Registry
}

type Server struct {
	e   *echo.Echo
	hub *realtime.Hub
	log *slog.Logger
}

func New(cfg *config.Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(middleware.Recover())
	e.Use(appmw.RequestID())
	e.Use(appmw.AccessLog(log))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", identity.HeaderUserID, echo.HeaderXRequestID},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin(cfg.AllowedOrigins),
	}))

	convRepo := repository.NewConversationRepository(deps.DB)
	msgRepo := repository.NewMessageRepository(deps.DB)
	propRepo := repository.NewPropertyRepository(deps.DB)
	noteRepo := repository.NewNotificationRepository(deps.DB)

	noteSvc := service.NewNotificationService(noteRepo)
	chatSvc := service.NewChatService(convRepo, msgRepo, propRepo, deps.Users, service.WithNotifications(noteSvc))

	metrics := realtime.NewMetrics(reg)
	hub := realtime.NewHub(log, metrics)
	chatHandler := handler.NewChatHandler(chatSvc, noteSvc, hub)

	var wsAuth realtime.Authenticator
	if deps.Auth != nil {
		wsAuth = deps.Auth
	}
	gw := realtime.NewGateway(log, hub, wsAuth, participantStore{convs: convRepo}, chatHandler, metrics,
		realtime.OptionsFromConfig(cfg.WS, cfg.AllowedOrigins))

	noteHandler := handler.NewNotificationHandler(noteSvc)
	userHandler := handler.NewUserHandler(deps.Users)
	authMw := appmw.NewAuthMiddleware(deps.Auth)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    cfg.GitSHA,
			"build_time": cfg.BuildTime,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	e.GET("/ws", echo.WrapHandler(gw))

	api := e.Group("/api")
	api.GET("/users/:uid/public", userHandler.GetPublic)

	chat := api.Group("/chat", authMw.RequireAuth)
	chat.POST("/conversation/start", chatHandler.Start)
	chat.GET("/conversations", chatHandler.List)
	chat.GET("/conversations/:conversationId", chatHandler.Get)
	chat.GET("/messages/:conversationId", chatHandler.Messages)
	chat.POST("/message/send", chatHandler.Send)
	chat.DELETE("/messages/:conversationId/:messageId", chatHandler.DeleteMessage)
	chat.GET("/unread-count", chatHandler.UnreadCount)
	chat.DELETE("/conversation/:conversationId", chatHandler.Archive)
	chat.GET("/notifications", noteHandler.List)
	chat.POST("/notifications/read-all", noteHandler.MarkAllRead)
	chat.GET("/presence", chatHandler.Presence)

	return &Server{e: e, hub: hub, log: log}
}

// Handler exposes the assembled router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	s.log.Info("server.start", "addr", addr)
	return s.e.Start(addr)
}

// Shutdown stops accepting requests, then closes every realtime session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.e.Shutdown(ctx)
	s.hub.Close()
	return err
}

// allowOrigin admits local development origins and the configured allowlist.
func allowOrigin(allowed []string) func(string) (bool, error) {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/"); o != "" {
			set[o] = struct{}{}
		}
	}
	return func(origin string) (bool, error) {
		low := strings.ToLower(origin)
		if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
			strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
			return true, nil
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false, nil
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false, nil
		}
		if _, ok := set["*"]; ok {
			return true, nil
		}
		_, ok := set[strings.TrimRight(low, "/")]
		return ok, nil
	}
}

// participantStore answers realtime room membership from the conversation table.
type participantStore struct {
	convs repository.ConversationRepository
}

func (p participantStore) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	id, err := strconv.ParseUint(conversationID, 10, 64)
	if err != nil || id == 0 {
		return false, nil
	}
	return p.convs.IsParticipant(ctx, id, userID)
}
