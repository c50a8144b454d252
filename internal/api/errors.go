package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xelma/round-engine/internal/auth"
	"github.com/xelma/round-engine/internal/contract"
	"github.com/xelma/round-engine/internal/metrics"
)

var (
	errInvalidBody = errors.New("invalid request body")
	errNotFound    = errors.New("not found")
)

// ErrorResponse is the JSON body of every failed request. Code is the
// stable contract error code and is omitted for transport-level failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code,omitempty"`
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	if ce, ok := contract.AsError(err); ok {
		if ce == contract.ErrNoActiveRound {
			return http.StatusNotFound
		}
		switch ce.Kind {
		case contract.KindAuthorization:
			return http.StatusForbidden
		case contract.KindValidation:
			return http.StatusBadRequest
		case contract.KindState, contract.KindBusiness:
			return http.StatusConflict
		case contract.KindArithmetic:
			return http.StatusUnprocessableEntity
		}
	}
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidAddress), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if ce, ok := contract.AsError(err); ok {
		resp.Code = ce.Code
		metrics.ContractErrors.WithLabelValues(strconv.FormatUint(uint64(ce.Code), 10)).Inc()
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
