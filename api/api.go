package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"edgemon-go/pipeline"
	"edgemon-go/service/config"
	"edgemon-go/service/lgr"
)

type healthResponse struct {
	Status string `json:"status"`
	RunID  string `json:"runId"`
}

// Server exposes the monitor's health and current alert over HTTP so
// operators can poll the edge box without looking at the video window.
type Server struct {
	monitor *pipeline.Monitor
	srv     *http.Server
}

func New(cfgsvc config.IService, monitor *pipeline.Monitor) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{monitor: monitor}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", s.healthz)
	engine.GET("/status", s.status)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfgsvc.GetAPIPort()),
		Handler: engine,
	}

	return s
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status: "healthy",
		RunID:  s.monitor.RunID(),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alert": s.monitor.Overlay().Current(),
		"stats": s.monitor.Stats(),
	})
}

// Start serves in the background; a closed listener on shutdown is not
// an error worth reporting.
func (s *Server) Start() {
	go func() {
		lgr.Logger.Info("status api listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lgr.Logger.Error("status api failed", slog.Any("error", err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
