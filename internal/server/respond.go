package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/harborlock/harborlock/internal/rls"
	"github.com/harborlock/harborlock/pkg/httperr"
	"github.com/harborlock/harborlock/pkg/secretbox"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps internal failures onto the client-visible surface.
// Tenant-resolution failures, membership invariant violations, RLS
// denials and AEAD authentication failures all collapse into generic
// denials: which invariant failed is not for clients to learn.
func writeError(w http.ResponseWriter, retryAfterSeconds int, err error) {
	switch {
	case httperr.IsBadRequest(err):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case httperr.IsRateLimited(err):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited, retry later"})
	case httperr.IsNotFound(err),
		errors.Is(err, rls.ErrTenantNotResolved),
		errors.Is(err, rls.ErrMembershipInvariant):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case httperr.IsForbidden(err),
		errors.Is(err, secretbox.ErrAuthentication):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
