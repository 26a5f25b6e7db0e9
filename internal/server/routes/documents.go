package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cortexbrain/cortex/internal/queue"
	"github.com/cortexbrain/cortex/internal/server/middleware"
	"github.com/cortexbrain/cortex/internal/storage"
	"github.com/cortexbrain/cortex/internal/util"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

// CreateDocumentHandler registers a document and queues it for
// ingestion. The text comes inline or as an object store key.
func CreateDocumentHandler(c echo.Context) error {
	type createDocumentBody struct {
		Name  string `json:"name" validate:"required"`
		Text  string `json:"text"`
		S3Key string `json:"s3_key"`
	}

	type createDocumentResponse struct {
		Message  string          `json:"message"`
		Document *model.Document `json:"document,omitempty"`
		JobID    string          `json:"job_id,omitempty"`
	}

	data := new(createDocumentBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentResponse{
			Message: "Invalid request body",
		})
	}
	if strings.TrimSpace(data.Text) == "" && data.S3Key == "" {
		return c.JSON(http.StatusBadRequest, createDocumentResponse{
			Message: "Either text or s3_key is required",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	documentID := util.NewID()
	sourceURI := data.S3Key
	if data.Text != "" && app.S3 != nil {
		key, err := storage.PutFile(ctx, app.S3, documentID, strings.NewReader(data.Text))
		if err != nil {
			logger.Error("Failed to archive document text", "document_id", documentID, "err", err)
		} else {
			sourceURI = key
		}
	}

	doc := model.Document{
		ID:        documentID,
		Name:      data.Name,
		SourceURI: sourceURI,
		Status:    model.DocumentStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := app.Store.CreateDocument(ctx, doc); err != nil {
		logger.Error("Failed to create document", "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}

	job, err := app.Jobs.Create(ctx, documentID)
	if err != nil {
		logger.Error("Failed to register ingest job", "document_id", documentID, "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}

	msg, err := json.Marshal(queue.IngestMessage{
		DocumentID: documentID,
		JobID:      job.ID,
		S3Key:      data.S3Key,
		Text:       data.Text,
	})
	if err != nil {
		logger.Error("Failed to marshal ingest message", "document_id", documentID, "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}
	if err := queue.PublishFIFO(app.Queue, queue.IngestQueue, msg); err != nil {
		logger.Error("Failed to publish ingest message", "document_id", documentID, "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, createDocumentResponse{
		Message:  "Document queued for ingestion",
		Document: &doc,
		JobID:    job.ID,
	})
}

// GetDocumentHandler returns the document record including its status
// and chunk count.
func GetDocumentHandler(c echo.Context) error {
	type getDocumentResponse struct {
		Message  string          `json:"message,omitempty"`
		Document *model.Document `json:"document,omitempty"`
	}

	id := c.Param("id")
	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	doc, err := app.Store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, getDocumentResponse{
			Message: "Document not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get document", "document_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, getDocumentResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getDocumentResponse{Document: doc})
}

// DeleteDocumentHandler removes the document with its chunks, graph,
// backup copy and archived source.
func DeleteDocumentHandler(c echo.Context) error {
	type deleteDocumentResponse struct {
		Message string `json:"message"`
	}

	id := c.Param("id")
	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	doc, err := app.Store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, deleteDocumentResponse{
			Message: "Document not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get document", "document_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteDocumentResponse{
			Message: "Internal server error",
		})
	}

	if app.Backup != nil {
		if err := app.Backup.DeleteGraph(ctx, id); err != nil {
			logger.Warn("Failed to delete backup graph", "document_id", id, "err", err)
		}
	}
	if err := app.Store.DeleteGraph(ctx, id); err != nil {
		logger.Error("Failed to delete graph", "document_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteDocumentResponse{
			Message: "Internal server error",
		})
	}
	if err := app.Store.DeleteChunks(ctx, id); err != nil {
		logger.Error("Failed to delete chunks", "document_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteDocumentResponse{
			Message: "Internal server error",
		})
	}
	if doc.SourceURI != "" && app.S3 != nil {
		if err := storage.DeleteFile(ctx, app.S3, doc.SourceURI); err != nil {
			logger.Warn("Failed to delete archived source", "document_id", id, "key", doc.SourceURI, "err", err)
		}
	}
	if err := app.Store.DeleteDocument(ctx, id); err != nil {
		logger.Error("Failed to delete document", "document_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteDocumentResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, deleteDocumentResponse{
		Message: "Document deleted",
	})
}

// GetDocumentGraphHandler exports the document's graph as nodes and
// edges, nodes sized by mention count.
func GetDocumentGraphHandler(c echo.Context) error {
	type graphNode struct {
		ID   string           `json:"id"`
		Name string           `json:"name"`
		Type model.EntityType `json:"type"`
		Size int              `json:"size"`
	}

	type graphEdge struct {
		ID      string `json:"id"`
		Source  string `json:"source"`
		Target  string `json:"target"`
		Type    string `json:"type"`
		Context string `json:"context,omitempty"`
	}

	type getGraphResponse struct {
		Message string      `json:"message,omitempty"`
		Nodes   []graphNode `json:"nodes"`
		Edges   []graphEdge `json:"edges"`
	}

	id := c.Param("id")
	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	g, err := app.Store.ExportGraph(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, getGraphResponse{
			Message: "Graph not found",
		})
	}
	if err != nil {
		logger.Error("Failed to export graph", "document_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, getGraphResponse{
			Message: "Internal server error",
		})
	}

	nodes := make([]graphNode, 0, len(g.Entities))
	for _, e := range g.Entities {
		nodes = append(nodes, graphNode{
			ID:   e.ID,
			Name: e.Name,
			Type: e.Type,
			Size: len(e.Mentions),
		})
	}
	edges := make([]graphEdge, 0, len(g.Relationships))
	for _, r := range g.Relationships {
		edges = append(edges, graphEdge{
			ID:      r.ID,
			Source:  r.SourceEntityID,
			Target:  r.TargetEntityID,
			Type:    r.Type,
			Context: r.Context,
		})
	}

	return c.JSON(http.StatusOK, getGraphResponse{Nodes: nodes, Edges: edges})
}
