// Package api exposes the processing pipeline over HTTP: batch submission
// and tracking, document lookup, tax schema administration, certificate
// import and batch reports.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/notaflow/notaflow/internal/analyzer"
	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/internal/integration"
	"github.com/notaflow/notaflow/internal/queue"
	"github.com/notaflow/notaflow/internal/repository"
	"github.com/notaflow/notaflow/internal/schema"
)

// Handler bundles the HTTP endpoints and their collaborators.
type Handler struct {
	manager  *queue.Manager
	registry *schema.Registry
	docs     repository.DocumentRepository
	batches  repository.BatchRepository
	stages   repository.StageLogRepository
	creds    repository.CredentialRepository
	analyzer *analyzer.Analyzer
	vault    *integration.Vault // nil when integration is disabled
	log      *slog.Logger
}

// Deps collects the handler's collaborators.
type Deps struct {
	Manager     *queue.Manager
	Registry    *schema.Registry
	Documents   repository.DocumentRepository
	Batches     repository.BatchRepository
	StageLogs   repository.StageLogRepository
	Credentials repository.CredentialRepository
	Analyzer    *analyzer.Analyzer
	Vault       *integration.Vault
	Logger      *slog.Logger
}

// New builds the handler and registers its routes on a fresh mux.
func New(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Handler{
		manager:  deps.Manager,
		registry: deps.Registry,
		docs:     deps.Documents,
		batches:  deps.Batches,
		stages:   deps.StageLogs,
		creds:    deps.Credentials,
		analyzer: deps.Analyzer,
		vault:    deps.Vault,
		log:      deps.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/batches", h.submitBatch)
	mux.HandleFunc("GET /v1/batches", h.listBatches)
	mux.HandleFunc("GET /v1/batches/{id}", h.getBatch)
	mux.HandleFunc("POST /v1/batches/{id}/cancel", h.cancelBatch)
	mux.HandleFunc("GET /v1/batches/{id}/report", h.batchReport)
	mux.HandleFunc("GET /v1/documents", h.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", h.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/stages", h.documentStages)
	mux.HandleFunc("GET /v1/schema", h.getSchema)
	mux.HandleFunc("POST /v1/schema/taxes", h.addTax)
	mux.HandleFunc("PUT /v1/schema/taxes/{key}", h.updateTax)
	mux.HandleFunc("DELETE /v1/schema/taxes/{key}", h.removeTax)
	mux.HandleFunc("POST /v1/schema/taxes/{key}/toggle", h.toggleTax)
	mux.HandleFunc("GET /v1/schema/backups", h.schemaBackups)
	mux.HandleFunc("POST /v1/certificates", h.importCertificate)
	mux.HandleFunc("GET /v1/certificates", h.listCertificates)
	mux.HandleFunc("GET /v1/healthz", h.health)
	return mux
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}
	form := r.MultipartForm
	files := form.File["files"]
	if len(files) == 0 {
		http.Error(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	priority := 0
	if raw := strings.TrimSpace(r.FormValue("priority")); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid priority: %v", err), http.StatusBadRequest)
			return
		}
		priority = p
	}

	uploads := make([]queue.Upload, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to open upload: %v", err), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read upload: %v", err), http.StatusBadRequest)
			return
		}
		uploads = append(uploads, queue.Upload{FileName: header.Filename, Payload: data})
	}

	batch, err := h.manager.Submit(r.Context(),
		uploads,
		strings.TrimSpace(r.FormValue("name")),
		strings.TrimSpace(r.FormValue("origin")),
		priority)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	batches, err := h.batches.ListBatches(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	batch, items, err := h.manager.BatchStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch, "items": items})
}

func (h *Handler) cancelBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	batch, err := h.manager.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) batchReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	batch, err := h.batches.GetBatch(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	docs, err := h.docs.ListByBatch(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	stats := h.analyzer.AnalyzeBatch(docs, h.registry.Snapshot())

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batch_"+id.String()+".xlsx"))
	if err := analyzer.RenderBatchReport(w, batch, docs, stats); err != nil {
		h.log.Error("failed to render batch report", "batch_id", id, "error", err)
	}
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	var status *domain.DocumentStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		s := domain.DocumentStatus(strings.ToUpper(raw))
		status = &s
	}
	docs, err := h.docs.List(r.Context(), status, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) documentStages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.docs.GetByID(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	entries, err := h.stages.ListByDocument(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": entries})
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot())
}

// taxRequest is the JSON body for add and update.
type taxRequest struct {
	domain.TaxDefinition
	Author      string `json:"author,omitempty"`
	Description string `json:"change_description,omitempty"`
}

func (h *Handler) addTax(w http.ResponseWriter, r *http.Request) {
	h.applyTaxMutation(w, r, schema.MutationAdd, "")
}

func (h *Handler) updateTax(w http.ResponseWriter, r *http.Request) {
	h.applyTaxMutation(w, r, schema.MutationUpdate, r.PathValue("key"))
}

func (h *Handler) applyTaxMutation(w http.ResponseWriter, r *http.Request, kind schema.MutationKind, key string) {
	var req taxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid tax definition: %v", err), http.StatusBadRequest)
		return
	}
	if key != "" && req.Key != "" && req.Key != key {
		http.Error(w, "tax key in body does not match path", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		req.Key = key
	}
	updated, err := h.registry.Apply(schema.Mutation{
		Kind:        kind,
		Definition:  req.TaxDefinition,
		Author:      req.Author,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) removeTax(w http.ResponseWriter, r *http.Request) {
	updated, err := h.registry.Apply(schema.Mutation{
		Kind: schema.MutationRemove,
		Key:  r.PathValue("key"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) toggleTax(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool   `json:"enabled"`
		Author  string `json:"author,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid toggle request: %v", err), http.StatusBadRequest)
		return
	}
	updated, err := h.registry.Apply(schema.Mutation{
		Kind:    schema.MutationToggle,
		Key:     r.PathValue("key"),
		Enabled: req.Enabled,
		Author:  req.Author,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) schemaBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.registry.Backups()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (h *Handler) importCertificate(w http.ResponseWriter, r *http.Request) {
	if h.vault == nil {
		http.Error(w, "integration is disabled", http.StatusConflict)
		return
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("certificate file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()
	bundle, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read certificate: %v", err), http.StatusBadRequest)
		return
	}

	alias := strings.TrimSpace(r.FormValue("alias"))
	cnpj := strings.TrimSpace(r.FormValue("cnpj"))
	if alias == "" || cnpj == "" {
		http.Error(w, "alias and cnpj are required", http.StatusBadRequest)
		return
	}
	cert, err := h.vault.ImportCertificate(alias, cnpj, bundle, r.FormValue("password"))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to import certificate: %v", err), http.StatusUnprocessableEntity)
		return
	}
	cert, err = h.creds.Store(r.Context(), cert)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}

func (h *Handler) listCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := h.creds.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": certs})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var schemaErr *domain.SchemaError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &schemaErr):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrQueueClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid %s: %v", name, err), http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
