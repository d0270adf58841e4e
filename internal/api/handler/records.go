package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/statekeeper/internal/api/request"
	"github.com/edvin/statekeeper/internal/api/response"
	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/model"
)

// Catalog is the read side of *catalog.Catalog.
type Catalog interface {
	Records(ctx context.Context, f catalog.Filter) ([]model.Record, error)
	Get(ctx context.Context, env model.Environment, id string) (model.Record, error)
	Resolve(ctx context.Context, env model.Environment, ref string) (model.Record, error)
	Stats(ctx context.Context, env model.Environment) (model.CatalogStats, error)
}

type Records struct {
	catalog Catalog
}

func NewRecords(c Catalog) *Records {
	return &Records{catalog: c}
}

// List returns records most recent first, filtered by kind, since, until and limit.
func (h *Records) List(w http.ResponseWriter, r *http.Request) {
	envs, ok := environments(w, r)
	if !ok {
		return
	}
	f, err := request.ParseRecordFilter(r, envs)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.catalog.Records(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.WriteList(w, http.StatusOK, recs)
}

// Get returns one record by exact ID (any kind) or by backup reference.
func (h *Records) Get(w http.ResponseWriter, r *http.Request) {
	env, ok := environment(w, r)
	if !ok {
		return
	}
	ref := chi.URLParam(r, "ref")

	rec, err := h.catalog.Get(r.Context(), env, ref)
	if errors.Is(err, catalog.ErrNotFound) {
		rec, err = h.catalog.Resolve(r.Context(), env, ref)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, rec)
}

// Stats returns per-environment catalog statistics.
func (h *Records) Stats(w http.ResponseWriter, r *http.Request) {
	envs, ok := environments(w, r)
	if !ok {
		return
	}

	out := make([]model.CatalogStats, 0, len(envs))
	for _, env := range envs {
		s, err := h.catalog.Stats(r.Context(), env)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, s)
	}
	response.WriteList(w, http.StatusOK, out)
}
