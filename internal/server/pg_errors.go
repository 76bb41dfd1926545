package server

import (
	"errors"
	"strings"

	"github.com/harborlock/harborlock/pkg/httperr"
	"github.com/jackc/pgx/v5/pgconn"
)

func pgErrorCode(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

// isPgRLSDenied reports a row-security policy rejection. Surfaced to
// clients as a generic not-found so tenant boundaries cannot be probed.
func isPgRLSDenied(err error) bool {
	return pgErrorCode(err) == "42501"
}

func isPgUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isPgInvalidInput(err error) bool {
	switch pgErrorCode(err) {
	case "22P02", "22003", "22007", "22008":
		return true
	default:
		return false
	}
}

// mapStoreError normalizes persistence failures into the error surface
// handlers expose.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case isPgRLSDenied(err):
		return httperr.NewNotFound()
	case isPgUniqueViolation(err):
		return httperr.NewBadRequest("duplicate")
	case isPgInvalidInput(err):
		return httperr.NewBadRequest("invalid input")
	default:
		return err
	}
}
