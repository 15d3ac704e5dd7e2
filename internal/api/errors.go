// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/mediacore/internal/jobs"
	"github.com/ManuGH/mediacore/internal/library"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/ManuGH/mediacore/internal/session"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, detail string) {
	writeJSON(w, code, errorBody{Error: kind, Detail: detail})
}

// writeErr maps domain errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrSegmentMissing),
		errors.Is(err, session.ErrNoSubtitles),
		errors.Is(err, jobs.ErrImageNotFound),
		errors.Is(err, library.ErrRootNotFound),
		errors.Is(err, library.ErrMediaNotFound),
		errors.Is(err, library.ErrNoArtwork):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, jobs.ErrImageForbidden),
		errors.Is(err, library.ErrPathEscape):
		writeError(w, http.StatusForbidden, "forbidden", "location not allowed")
	case errors.Is(err, session.ErrCanceled):
		writeError(w, http.StatusGone, "session_canceled", err.Error())
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, jobs.ErrInvalidImageID),
		errors.Is(err, jobs.ErrInvalidLibrary):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, queue.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "timeout", "no worker answered in time")
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
