package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cortexbrain/cortex/internal/server/middleware"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/retrieve"
	"github.com/cortexbrain/cortex/pkg/store"
)

// QueryDocumentHandler answers a question over one document: hybrid
// retrieval picks the passages, the gateway writes the answer, and the
// sources carry their provenance.
func QueryDocumentHandler(c echo.Context) error {
	type queryDocumentRequest struct {
		DocumentID string `param:"id" validate:"required"`
		Query      string `json:"query" validate:"required"`
		UseGraph   *bool  `json:"use_graph"`
	}

	type queryDocumentResponse struct {
		Message     string                  `json:"message"`
		Answer      string                  `json:"answer,omitempty"`
		Sources     []model.RetrievalResult `json:"sources,omitempty"`
		GraphPath   retrieve.PathStatus     `json:"graph_path,omitempty"`
		LexicalPath retrieve.PathStatus     `json:"lexical_path,omitempty"`
	}

	data := new(queryDocumentRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryDocumentResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryDocumentResponse{
			Message: "Invalid request body",
		})
	}
	useGraph := true
	if data.UseGraph != nil {
		useGraph = *data.UseGraph
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	doc, err := app.Store.GetDocument(ctx, data.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, queryDocumentResponse{
			Message: "Document not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get document", "document_id", data.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, queryDocumentResponse{
			Message: "Internal server error",
		})
	}
	if doc.Status != model.DocumentStatusReady {
		return c.JSON(http.StatusConflict, queryDocumentResponse{
			Message: "Document is not ready for querying",
		})
	}

	result, err := app.Engine.Retrieve(ctx, data.Query, data.DocumentID, useGraph)
	if err != nil {
		logger.Error("Retrieval failed", "document_id", data.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, queryDocumentResponse{
			Message: "Internal server error",
		})
	}
	if len(result.Results) == 0 {
		return c.JSON(http.StatusOK, queryDocumentResponse{
			Message:     "No relevant passages found",
			GraphPath:   result.GraphPath,
			LexicalPath: result.LexicalPath,
		})
	}

	passages := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		passages = append(passages, r.Text)
	}
	answer, err := app.Gateway.GenerateAnswer(ctx, data.Query, passages)
	if err != nil {
		logger.Error("Answer generation failed", "document_id", data.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, queryDocumentResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, queryDocumentResponse{
		Message:     "OK",
		Answer:      answer,
		Sources:     result.Results,
		GraphPath:   result.GraphPath,
		LexicalPath: result.LexicalPath,
	})
}
