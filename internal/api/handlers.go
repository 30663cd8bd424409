package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/refdata/internal/baseline"
	"github.com/sells-group/refdata/internal/refdata"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listFacets(w http.ResponseWriter, r *http.Request) {
	facets, err := s.engine.ListFacets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facets": facets})
}

func (s *Server) listValues(w http.ResponseWriter, r *http.Request) {
	includeSuggested := false
	if raw := r.URL.Query().Get("include_suggested"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, eris.Wrapf(refdata.ErrValidation, "api: include_suggested %q is not a boolean", raw))
			return
		}
		includeSuggested = v
	}
	values, err := s.engine.GetReferenceValues(r.Context(), chi.URLParam(r, "facet"), includeSuggested)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"values": values})
}

func (s *Server) createValue(w http.ResponseWriter, r *http.Request) {
	var req refdata.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.engine.CreateReferenceValue(r.Context(), chi.URLParam(r, "facet"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) deactivateValue(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Deactivate(r.Context(), chi.URLParam(r, "facet"), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addAliasRequest struct {
	AliasValue string `json:"alias_value"`
	refdata.AliasOptions
}

func (s *Server) addAlias(w http.ResponseWriter, r *http.Request) {
	var req addAliasRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.engine.AddAlias(r.Context(), chi.URLParam(r, "facet"), chi.URLParam(r, "id"), req.AliasValue, req.AliasOptions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if a == nil {
		// The alias text is the value's own canonical text.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) removeAlias(w http.ResponseWriter, r *http.Request) {
	err := s.engine.RemoveAlias(r.Context(), chi.URLParam(r, "facet"), chi.URLParam(r, "id"), chi.URLParam(r, "aliasID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Approve(r.Context(), chi.URLParam(r, "facet"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reject(r.Context(), chi.URLParam(r, "facet"), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Discover(r.Context(), chi.URLParam(r, "facet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type saveSuggestionsRequest struct {
	Groups []refdata.Group `json:"groups"`
}

func (s *Server) saveSuggestions(w http.ResponseWriter, r *http.Request) {
	var req saveSuggestionsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.SaveSuggestions(r.Context(), chi.URLParam(r, "facet"), req.Groups)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resolveResponse struct {
	Value *refdata.ReferenceValue `json:"value"`
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("value")
	if strings.TrimSpace(raw) == "" {
		writeError(w, r, eris.Wrap(refdata.ErrValidation, "api: value query parameter is required"))
		return
	}
	v, err := s.engine.Resolve(r.Context(), chi.URLParam(r, "facet"), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Value: v})
}

// exportBaseline streams the baseline YAML for every facet, or for the
// facet named by the facet query parameter.
func (s *Server) exportBaseline(w http.ResponseWriter, r *http.Request) {
	file, res, err := s.baseline.Export(r.Context(), r.URL.Query().Get("facet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("X-Refdata-Facets", strconv.Itoa(res.FacetsExported))
	w.Header().Set("X-Refdata-Values", strconv.Itoa(res.ValuesExported))
	w.Header().Set("X-Refdata-Aliases", strconv.Itoa(res.AliasesExported))
	w.WriteHeader(http.StatusOK)
	if err := baseline.Write(w, file); err != nil {
		writeErrorLogged(r, err)
	}
}

// importBaseline replaces the covered facets with the YAML baseline in the
// request body. The confirm query parameter must be true.
func (s *Server) importBaseline(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("baseline exceeds %d bytes", tooLarge.Limit),
				Kind:  refdata.Kind(refdata.ErrValidation),
			})
			return
		}
		writeError(w, r, eris.Wrap(refdata.ErrValidation, "api: read baseline body"))
		return
	}
	file, err := baseline.Read(bytes.NewReader(raw))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.baseline.Import(r.Context(), file, baseline.ImportOptions{Confirm: confirm})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
