package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"boardsync/application/compaction"
	"boardsync/application/session"
	"boardsync/domain/graph"
	"boardsync/pkg/common"
	"boardsync/pkg/errors"
)

// DocHandler serves read-only views of stored documents.
type DocHandler struct {
	registry *session.Registry
	store    compaction.Store
	logger   *zap.Logger
}

// NewDocHandler creates the handler.
func NewDocHandler(registry *session.Registry, store compaction.Store, logger *zap.Logger) *DocHandler {
	return &DocHandler{registry: registry, store: store, logger: logger}
}

// ListDocuments returns the ids of every stored document.
func (h *DocHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ListDocuments(r.Context())
	if err != nil {
		h.logger.Error("failed to list documents", zap.Error(err))
		common.RespondError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	common.RespondJSON(w, http.StatusOK, map[string]interface{}{"documents": ids})
}

// GetDocument returns the merged current state of one document.
func (h *DocHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	ids, err := h.store.ListDocuments(r.Context())
	if err != nil {
		common.RespondError(w, err)
		return
	}
	known := false
	for _, id := range ids {
		if id == docID {
			known = true
			break
		}
	}
	if !known {
		common.RespondError(w, errors.NewNotFoundError("document"))
		return
	}

	doc, release, err := h.registry.Acquire(r.Context(), docID)
	if err != nil {
		h.logger.Error("failed to load document", zap.String("docID", docID), zap.Error(err))
		common.RespondError(w, err)
		return
	}
	defer release()

	nodes := make([]graph.Node, 0)
	for _, node := range doc.Nodes() {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]graph.Edge, 0)
	for _, edge := range doc.Edges() {
		edges = append(edges, edge)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":    docID,
		"nodes": nodes,
		"edges": edges,
	})
}
