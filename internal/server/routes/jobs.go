package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cortexbrain/cortex/internal/server/middleware"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

// GetJobHandler returns the ingestion job's state, warnings and error.
func GetJobHandler(c echo.Context) error {
	type getJobResponse struct {
		Message string           `json:"message,omitempty"`
		Job     *model.IngestJob `json:"job,omitempty"`
	}

	id := c.Param("id")
	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	job, err := app.Jobs.GetStatus(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, getJobResponse{
			Message: "Job not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get job", "job_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, getJobResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getJobResponse{Job: job})
}
