// Package api contains the REST facade over workflows and runs
package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"comfyrun/internal/runner"
	"comfyrun/internal/workflow"
	"comfyrun/pkg/models"
)

// RunHistory looks up finished runs.
type RunHistory interface {
	Lookup(ctx context.Context, id string) (*models.RunRecord, error)
	History(ctx context.Context, limit int) ([]*models.RunRecord, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	Catalog *workflow.Catalog
	Runs    RunHistory
	Runner  *runner.Runner
}

// NewServer creates a new Server.
func NewServer(catalog *workflow.Catalog, runs RunHistory, r *runner.Runner) *Server {
	return &Server{Catalog: catalog, Runs: runs, Runner: r}
}

// RegisterHealth mounts the health check outside any authenticated group.
func RegisterHealth(e *echo.Echo, h *Handler) {
	e.GET("/api/v1/health", echo.WrapHandler(http.HandlerFunc(h.HandleHealth)))
}

// RegisterHandlers mounts the workflow and run routes on g, which is
// expected at /api/v1. startMW guards POST /runs only.
func RegisterHandlers(g *echo.Group, s *Server, startMW ...echo.MiddlewareFunc) {
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/tokens", s.ListTokens)
	g.GET("/runs", s.ListRuns)
	g.POST("/runs", s.StartRun, startMW...)
	g.GET("/runs/latest", s.LatestRun)
	g.GET("/runs/:id", s.GetRun)
}

// ListWorkflows returns every workflow path under the catalog root
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.Catalog.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if workflows == nil {
		workflows = []string{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// ListTokens returns the placeholders of one workflow
// (GET /api/v1/workflows/tokens?path=)
func (s *Server) ListTokens(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing query parameter: path")
	}

	specs, err := s.Catalog.Tokens(path)
	if err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusOK, specs)
}

func workflowError(err error) error {
	switch {
	case errors.Is(err, workflow.ErrOutsideRoot):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, os.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
}
