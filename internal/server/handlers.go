package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oaguiar/incmatch/internal/matching"
	"github.com/oaguiar/incmatch/internal/repository"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Handler implements the REST endpoints.
type Handler struct {
	incentives repository.IncentiveRepository
	companies  repository.CompanyRepository
	engine     *matching.Engine
	logger     *slog.Logger
}

// NewHandler creates the endpoint handler.
func NewHandler(incentives repository.IncentiveRepository, companies repository.CompanyRepository, engine *matching.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		incentives: incentives,
		companies:  companies,
		engine:     engine,
		logger:     logger,
	}
}

type listResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

func (h *Handler) listIncentives(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	items, total, err := h.incentives.List(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "failed to list incentives", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (h *Handler) getIncentive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	incentive, err := h.incentives.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "incentive not found", err)
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "failed to load incentive", err)
		return
	}
	writeJSON(w, http.StatusOK, incentive)
}

func (h *Handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	items, total, err := h.companies.List(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "failed to list companies", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (h *Handler) getCompany(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	company, err := h.companies.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "company not found", err)
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "failed to load company", err)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

type matchesResponse struct {
	IncentiveID string           `json:"incentive_id"`
	Matches     []matching.Match `json:"matches"`
}

// rankMatches runs the matching engine for one incentive. The body is an
// optional matching.Params object; an empty body means defaults.
func (h *Handler) rankMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var params matching.Params
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	matches, err := h.engine.Rank(r.Context(), id, params)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			h.writeError(w, r, http.StatusNotFound, "incentive not found", err)
		case errors.Is(err, matching.ErrEmptyPopulation):
			h.writeError(w, r, http.StatusConflict, "no companies available to rank", err)
		default:
			h.writeError(w, r, http.StatusInternalServerError, "ranking failed", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, matchesResponse{IncentiveID: id, Matches: matches})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
