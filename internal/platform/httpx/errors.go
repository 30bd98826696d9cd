// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// ErrBadRequest marks malformed requests rejected before reaching the ledger.
var ErrBadRequest = errors.New("bad request")

// RespondError maps ledger errors to HTTP responses using RFC7807.
// Integrity faults are logged at ERROR as a critical alert and hidden from the client.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, ErrBadRequest) {
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	switch shared.Classify(err) {
	case shared.KindValidation:
		detail := ProblemDetail{Title: "Validation Failed", Status: http.StatusUnprocessableEntity, Detail: err.Error()}
		var verr *shared.ValidationError
		if errors.As(err, &verr) && verr.Line >= 0 {
			line := verr.Line
			detail.Line = &line
		}
		JSON(w, detail.Status, detail)
	case shared.KindNotFound:
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case shared.KindConflict:
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case shared.KindLocked:
		Problem(w, http.StatusLocked, "Locked", err.Error())
	case shared.KindIntegrity:
		if logger != nil {
			logger.Error("ledger integrity fault", slog.String("alert", "critical"), slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, "Integrity Fault", "ledger integrity check failed; period held for audit")
	default:
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
