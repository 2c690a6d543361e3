package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sssolid/crown-nexus/engine/domain"
	"github.com/sssolid/crown-nexus/engine/fitment"
	"github.com/sssolid/crown-nexus/engine/graph"
	"github.com/sssolid/crown-nexus/engine/mapping"
	"github.com/sssolid/crown-nexus/pkg/resilience"
)

const maxBodyBytes = 10 << 20

type processor interface {
	Handle(ctx context.Context, req fitment.Request) (*fitment.Response, error)
}

type mappingStore interface {
	List(ctx context.Context, q mapping.ListQuery) (mapping.Page[domain.ModelMapping], error)
	Create(ctx context.Context, m domain.ModelMapping) (domain.ModelMapping, error)
	Update(ctx context.Context, id int64, patch domain.MappingPatch) (domain.ModelMapping, error)
	Delete(ctx context.Context, id int64) error
	BulkImport(ctx context.Context, data []byte) (mapping.ImportResult, error)
}

type mappingCache interface {
	Refresh(ctx context.Context) (mapping.RefreshStats, error)
	Diagnostics() []mapping.Duplicate
	Len() int
	LoadedAt() time.Time
	Ready() bool
}

type productStore interface {
	Associate(ctx context.Context, a graph.Association) error
	ListAssociations(ctx context.Context, productID string) ([]graph.Association, error)
	Remove(ctx context.Context, fitmentID, productID string) (bool, error)
}

// server holds the HTTP handlers' dependencies.
type server struct {
	svc      processor
	mappings mappingStore
	cache    mappingCache
	products productStore
	logger   *slog.Logger
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/fitment/process", s.handleProcess)
	mux.HandleFunc("GET /api/mappings", s.handleListMappings)
	mux.HandleFunc("POST /api/mappings", s.handleCreateMapping)
	mux.HandleFunc("PATCH /api/mappings/{id}", s.handleUpdateMapping)
	mux.HandleFunc("DELETE /api/mappings/{id}", s.handleDeleteMapping)
	mux.HandleFunc("POST /api/mappings/import", s.handleImport)
	mux.HandleFunc("POST /api/mappings/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/mappings/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /api/products/{id}/fitments", s.handleListFitments)
	mux.HandleFunc("POST /api/products/{id}/fitments", s.handleAssociate)
	mux.HandleFunc("DELETE /api/products/{id}/fitments/{fitmentID}", s.handleRemoveFitment)
	return mux
}

// --- Handlers ---

type healthResponse struct {
	Status   string    `json:"status"`
	Mappings int       `json:"mappings"`
	LoadedAt time.Time `json:"loaded_at,omitzero"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.cache.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Mappings: s.cache.Len(), LoadedAt: s.cache.LoadedAt()})
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req fitment.Request
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Handle(r.Context(), req)
	if err != nil {
		s.writeErr(w, "process applications", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := mapping.ListQuery{Pattern: q.Get("pattern"), SortBy: q.Get("sort")}
	var err error
	if lq.Desc, err = boolParam(q.Get("desc")); err != nil {
		s.writeErr(w, "list mappings", domain.NewValidationError("desc", q.Get("desc"), err))
		return
	}
	if lq.Offset, err = intParam(q.Get("offset")); err != nil {
		s.writeErr(w, "list mappings", domain.NewValidationError("offset", q.Get("offset"), err))
		return
	}
	if lq.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeErr(w, "list mappings", domain.NewValidationError("limit", q.Get("limit"), err))
		return
	}
	page, err := s.mappings.List(r.Context(), lq)
	if err != nil {
		s.writeErr(w, "list mappings", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var m domain.ModelMapping
	if !s.decode(w, r, &m) {
		return
	}
	created, err := s.mappings.Create(r.Context(), m)
	if err != nil {
		s.writeErr(w, "create mapping", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var patch domain.MappingPatch
	if !s.decode(w, r, &patch) {
		return
	}
	updated, err := s.mappings.Update(r.Context(), id, patch)
	if err != nil {
		s.writeErr(w, "update mapping", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.mappings.Delete(r.Context(), id); err != nil {
		s.writeErr(w, "delete mapping", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		return
	}
	res, err := s.mappings.BulkImport(r.Context(), data)
	if err != nil {
		s.writeErr(w, "import mappings", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Refresh(r.Context())
	if err != nil {
		s.writeErr(w, "refresh mappings", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	dups := s.cache.Diagnostics()
	if dups == nil {
		dups = []mapping.Duplicate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicates": dups})
}

func (s *server) handleListFitments(w http.ResponseWriter, r *http.Request) {
	as, err := s.products.ListAssociations(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, "list fitments", err)
		return
	}
	writeJSON(w, http.StatusOK, as)
}

// associateRequest is the JSON body for POST /api/products/{id}/fitments.
type associateRequest struct {
	FitmentID         string `json:"fitment_id,omitempty"`
	VehicleID         int    `json:"vcdb_vehicle_id"`
	PositionIDs       []int  `json:"pcdb_position_ids"`
	PartTerminologyID int    `json:"part_terminology_id"`
}

func (s *server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	var req associateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.VehicleID <= 0 {
		s.writeErr(w, "associate", domain.NewValidationError("vcdb_vehicle_id", strconv.Itoa(req.VehicleID), errors.New("must be positive")))
		return
	}
	if req.PartTerminologyID <= 0 {
		s.writeErr(w, "associate", domain.NewValidationError("part_terminology_id", strconv.Itoa(req.PartTerminologyID), errors.New("must be positive")))
		return
	}
	if req.PositionIDs == nil {
		req.PositionIDs = []int{}
	}
	if req.FitmentID == "" {
		req.FitmentID = fitment.FitmentID(req.VehicleID, req.PositionIDs, req.PartTerminologyID)
	}
	a := graph.Association{
		ProductID:         r.PathValue("id"),
		FitmentID:         req.FitmentID,
		VehicleID:         req.VehicleID,
		PositionIDs:       req.PositionIDs,
		PartTerminologyID: req.PartTerminologyID,
	}
	if err := s.products.Associate(r.Context(), a); err != nil {
		s.writeErr(w, "associate", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleRemoveFitment(w http.ResponseWriter, r *http.Request) {
	removed, err := s.products.Remove(r.Context(), r.PathValue("fitmentID"), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, "remove fitment", err)
		return
	}
	if !removed {
		s.writeErr(w, "remove fitment", fmt.Errorf("association: %w", domain.ErrNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mapping.ErrCacheNotInitialized), errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeErr(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeErr(w, "parse id", domain.NewValidationError("id", raw, errors.New("not a positive integer")))
		return 0, false
	}
	return id, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return n, nil
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
