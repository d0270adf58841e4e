package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/api/response"
	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/core"
	"github.com/edvin/statekeeper/internal/model"
)

// environments resolves the {env} URL parameter, accepting "all".
// It writes a 404 and returns false for unknown names.
func environments(w http.ResponseWriter, r *http.Request) ([]model.Environment, bool) {
	envs, err := model.ParseEnvironmentScope(chi.URLParam(r, "env"))
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return envs, true
}

// environment is like environments but rejects "all".
func environment(w http.ResponseWriter, r *http.Request) (model.Environment, bool) {
	env, err := model.ParseEnvironment(chi.URLParam(r, "env"))
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return env, true
}

// writeError maps catalog and core failures to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrAmbiguous), core.IsConflict(err):
		status = http.StatusConflict
	case core.IsIntegrity(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNotFound), core.IsNotFound(err):
		status = http.StatusNotFound
	case core.IsStorage(err):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	response.WriteError(w, status, err.Error())
}
