// Package server exposes the engine over HTTP: task creation, approval
// decisions, abort/continue, task inspection, a websocket event feed and
// prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"loom/internal/agent"
	"loom/internal/agent/ports"
	"loom/internal/agent/taskregistry"
	"loom/internal/session"
	"loom/internal/shared/config"
	"loom/internal/shared/logging"
)

// Deps are the server's construction-time dependencies.
type Deps struct {
	Executor *agent.Executor
	Registry *taskregistry.Registry
	Domains  map[string]*ports.Domain
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
}

// Server is the HTTP surface over one executor.
type Server struct {
	config   config.ServerConfig
	executor *agent.Executor
	registry *taskregistry.Registry
	domains  map[string]*ports.Domain
	hub      *hub
	logger   logging.Logger

	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// New builds the router. Domains defaults to agent.DefaultDomains.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := logging.OrNop(deps.Logger)
	domains := deps.Domains
	if domains == nil {
		domains = agent.DefaultDomains()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		config:   cfg,
		executor: deps.Executor,
		registry: deps.Registry,
		domains:  domains,
		hub:      newHub(logger),
		logger:   logger,
		engine:   engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	api := engine.Group("/api")
	api.POST("/tasks", s.createTask)
	api.GET("/tasks/:id", s.getTask)
	api.POST("/tasks/:id/decision", s.decideTask)
	api.POST("/tasks/:id/abort", s.abortTask)
	api.POST("/tasks/:id/continue", s.continueTask)
	api.GET("/health", s.health)

	engine.GET("/ws/tasks/:id", s.streamTask)
	if deps.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.config.Addr,
		Handler:     s.engine,
		ReadTimeout: 30 * time.Second,
		// Write timeout stays off: websocket feeds outlive any fixed bound.
		IdleTimeout: 2 * time.Minute,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("server listening on %s", s.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

type createTaskRequest struct {
	DomainID      string                 `json:"domain_id"`
	Request       string                 `json:"request"`
	ChatID        string                 `json:"chat_id"`
	ChatHistory   []ports.HistoryMessage `json:"chat_history,omitempty"`
	AttachedFiles []string               `json:"attached_files,omitempty"`
	Budget        int                    `json:"budget,omitempty"`
	WorkspacePath string                 `json:"workspace_path,omitempty"`
	Metadata      map[string]any         `json:"metadata,omitempty"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if strings.TrimSpace(req.Request) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request must not be empty"})
		return
	}
	domainID := req.DomainID
	if domainID == "" {
		domainID = agent.DomainCoder
	}
	domain, ok := s.domains[domainID]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown domain %q", domainID)})
		return
	}

	state, err := s.executor.StartTask(c.Request.Context(), agent.TaskRequest{
		Domain:        domain,
		Request:       req.Request,
		ChatID:        req.ChatID,
		ChatHistory:   req.ChatHistory,
		AttachedFiles: req.AttachedFiles,
		Budget:        req.Budget,
		WorkspacePath: req.WorkspacePath,
		Metadata:      req.Metadata,
	}, s.hub.Emit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task_id":   state.TaskID,
		"domain_id": state.DomainID,
		"status":    state.Status,
	})
}

func (s *Server) getTask(c *gin.Context) {
	taskID := c.Param("id")
	if state, ok := s.registry.Get(taskID); ok {
		c.JSON(http.StatusOK, state)
		return
	}
	if status, ok := s.registry.RecentlyCompleted(taskID); ok {
		c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": status, "stale_request": true})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown task %s", taskID)})
}

func (s *Server) decideTask(c *gin.Context) {
	taskID := c.Param("id")
	var decision agent.Decision
	if err := c.ShouldBindJSON(&decision); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid decision body: %v", err)})
		return
	}

	resp, err := s.executor.HandleToolDecision(taskID, decision)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	// Stale and no-pending responses are HTTP success: UIs double-send
	// decisions after retries and reloads.
	c.JSON(http.StatusOK, resp)
}

type abortRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) abortTask(c *gin.Context) {
	taskID := c.Param("id")
	var req abortRequest
	_ = c.ShouldBindJSON(&req)

	if _, active := s.registry.Get(taskID); !active {
		if status, ok := s.registry.RecentlyCompleted(taskID); ok {
			c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": status, "stale_request": true})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown task %s", taskID)})
		return
	}
	s.executor.Abort(taskID, req.Reason)
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

func (s *Server) continueTask(c *gin.Context) {
	taskID := c.Param("id")
	if _, active := s.registry.Get(taskID); !active {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown task %s", taskID)})
		return
	}
	s.executor.Continue(taskID)
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"active_tasks": s.registry.ActiveCount(),
	})
}

// streamTask upgrades to a websocket and forwards the task's events until the
// client disconnects. Events already emitted are replayed from the backlog.
func (s *Server) streamTask(c *gin.Context) {
	taskID := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(taskID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case event := <-events:
			data, err := session.MarshalEvent(event)
			if err != nil {
				s.logger.Warn("ws: marshal of %s event failed: %v", event.Kind, err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
