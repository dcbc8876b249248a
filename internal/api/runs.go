package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"comfyrun/internal/repository"
	"comfyrun/internal/runner"
	"comfyrun/internal/services"
	"comfyrun/pkg/models"
)

// RunBody is the request body of POST /api/v1/runs.
type RunBody struct {
	Workflow  string                 `json:"workflow"`
	Values    map[string]interface{} `json:"values,omitempty"`
	Seed      interface{}            `json:"seed,omitempty"`
	Overrides map[string]interface{} `json:"overrides,omitempty"`
}

// RunAccepted is returned when a run was started.
type RunAccepted struct {
	RunID  string           `json:"run_id"`
	Status models.RunStatus `json:"status"`
}

// StartRun loads a workflow and starts it in the background
// (POST /api/v1/runs)
func (s *Server) StartRun(c echo.Context) error {
	var body RunBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if body.Workflow == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing required field: workflow")
	}

	g, err := s.Catalog.Open(body.Workflow)
	if err != nil {
		return workflowError(err)
	}

	id, err := s.Runner.Start(services.RunRequest{
		Workflow:  body.Workflow,
		Graph:     g,
		Values:    body.Values,
		Seed:      body.Seed,
		Overrides: body.Overrides,
	})
	if errors.Is(err, runner.ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, RunAccepted{RunID: id, Status: models.RunStatusPolling})
}

// GetRun returns one run record, or a polling stub for the run in flight
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	id := c.Param("id")
	if id == s.Runner.Current() {
		return c.JSON(http.StatusOK, &models.RunRecord{ID: id, Status: models.RunStatusPolling})
	}

	rec, err := s.Runs.Lookup(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found: "+id)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// ListRuns returns recent run records, newest first
// (GET /api/v1/runs?limit=)
func (s *Server) ListRuns(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid limit: "+v)
		}
		limit = n
	}

	runs, err := s.Runs.History(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []*models.RunRecord{}
	}
	return c.JSON(http.StatusOK, runs)
}

// LatestRun collects the most recent finished run with its artifacts. While a
// run is in flight it answers 202 with the run id; with no run ever finished
// it answers 204.
// (GET /api/v1/runs/latest)
func (s *Server) LatestRun(c echo.Context) error {
	res, ok := s.Runner.Poll()
	if !ok {
		if id := s.Runner.Current(); id != "" {
			return c.JSON(http.StatusAccepted, RunAccepted{RunID: id, Status: models.RunStatusPolling})
		}
		if res, ok = s.Runner.Last(); !ok {
			return c.NoContent(http.StatusNoContent)
		}
	}
	return c.JSON(http.StatusOK, res.Summarize())
}
