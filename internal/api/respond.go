package api

import (
	"encoding/json"
	"net/http"

	"github.com/warp-strategies/factory/internal/platform/ferrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a Factory error onto an HTTP status and a structured body
// carrying its §7 discriminant code, never letting a raw error string or a
// panic reach the caller (spec.md §7, "no panics escape handlers").
func writeError(w http.ResponseWriter, err error) {
	code := ferrors.CodeOf(err)
	writeJSON(w, statusForCode(code), errorResponse{Code: string(code), Message: err.Error()})
}

func statusForCode(code ferrors.Code) int {
	switch code {
	case ferrors.Unauthorized:
		return http.StatusForbidden
	case ferrors.InvalidConfig, ferrors.OutOfBounds, ferrors.LedgerProofInvalid:
		return http.StatusBadRequest
	case ferrors.InsufficientBal:
		return http.StatusPaymentRequired
	case ferrors.NotFound:
		return http.StatusNotFound
	case ferrors.LastAdmin:
		return http.StatusConflict
	case ferrors.LedgerTemporary, ferrors.HostTemporary:
		return http.StatusServiceUnavailable
	case ferrors.LedgerPermanent, ferrors.HostPermanent, ferrors.CreateAmbiguous,
		ferrors.Timeout, ferrors.AttemptsExhausted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
