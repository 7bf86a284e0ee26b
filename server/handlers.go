package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/petal-labs/sequential/catalog"
)

// decimal is a non-negative integer sent either as a JSON number or a
// string, so 128-bit values survive clients that parse numbers as floats.
type decimal string

func (d *decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = decimal(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected an integer, got %s", data)
	}
	*d = decimal(n.String())
	return nil
}

type createRequest struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Start     decimal `json:"start"`
	After     decimal `json:"after"`
	End       decimal `json:"end"`
	Increment decimal `json:"increment"`
}

func (req createRequest) definition() catalog.Definition {
	return catalog.Definition{
		Name:      req.Name,
		Kind:      req.Kind,
		Start:     string(req.Start),
		After:     string(req.After),
		End:       string(req.End),
		Increment: string(req.Increment),
	}
}

type continueAfterRequest struct {
	Value decimal `json:"value"`
}

type recoverRequest struct {
	Name   string    `json:"name"`
	Kind   string    `json:"kind"`
	Values []decimal `json:"values"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleKinds returns the supported integer kinds.
func (s *Server) handleKinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Kinds())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Stats())
}

func (s *Server) handleListSequences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.catalog.Create(r.Context(), req.definition())
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleRecoverSequence creates a sequence positioned after the highest of
// a set of already issued values.
func (s *Server) handleRecoverSequence(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if !s.decode(w, r, &req) {
		return
	}
	values := make([]string, len(req.Values))
	for i, v := range req.Values {
		values[i] = string(v)
	}
	info, err := s.catalog.Recover(r.Context(), req.Name, req.Kind, values)
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	info, err := s.catalog.Get(r.PathValue("name"))
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Delete(r.Context(), r.PathValue("name")); err != nil {
		s.writeCatalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNext allocates ?count= values, one by default.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "count must be an integer")
			return
		}
		count = n
	}

	alloc, err := s.catalog.Next(r.Context(), r.PathValue("name"), count)
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

func (s *Server) handleContinueAfter(w http.ResponseWriter, r *http.Request) {
	var req continueAfterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "value is required")
		return
	}
	info, err := s.catalog.ContinueAfter(r.Context(), r.PathValue("name"), string(req.Value))
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	err := decodeJSONBody(r, dest)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
	return false
}

func (s *Server) writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, catalog.ErrExists):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, catalog.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "UNKNOWN_KIND", err.Error(), catalog.Kinds()...)
	case errors.Is(err, catalog.ErrInvalid):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		s.logger.Error("catalog operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
	}
}
