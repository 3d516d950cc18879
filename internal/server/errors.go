package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/apperr"
)

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

var statusByCode = map[string]int{
	apperr.ErrInvalidSpecification.Code:   http.StatusUnprocessableEntity,
	apperr.ErrInsufficientCollateral.Code: http.StatusUnprocessableEntity,
	apperr.ErrTokenNotAccepted.Code:       http.StatusUnprocessableEntity,
	apperr.ErrInvalidArgument.Code:        http.StatusBadRequest,
	apperr.ErrSignatureInvalid.Code:       http.StatusBadRequest,
	apperr.ErrUnauthorized.Code:           http.StatusForbidden,
	apperr.ErrOptionNotFound.Code:         http.StatusNotFound,
	apperr.ErrAssetNotFound.Code:          http.StatusNotFound,
	apperr.ErrOrderExpired.Code:           http.StatusGone,
	apperr.ErrOptionExpired.Code:          http.StatusGone,
	apperr.ErrOrderAlreadyFilled.Code:     http.StatusConflict,
	apperr.ErrOrderCancelled.Code:         http.StatusConflict,
	apperr.ErrAlreadyExercised.Code:       http.StatusConflict,
	apperr.ErrAlreadyExpired.Code:         http.StatusConflict,
	apperr.ErrAssetExists.Code:            http.StatusConflict,
	apperr.ErrOptionNotYetExpired.Code:    http.StatusConflict,
	apperr.ErrExposureCapExceeded.Code:    http.StatusConflict,
	apperr.ErrInsufficientFunds.Code:      http.StatusConflict,
	apperr.ErrMarketOpen.Code:             http.StatusConflict,
	apperr.ErrStalePriceData.Code:         http.StatusServiceUnavailable,
	apperr.ErrCircuitBreakerTripped.Code:  http.StatusServiceUnavailable,
}

// errorBody classifies err. Unclassified errors are reported as INTERNAL
// without leaking their message.
func errorBody(err error) ErrorBody {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return ErrorBody{Code: "INTERNAL", Message: "internal error"}
	}
	return ErrorBody{Code: e.Code, Message: err.Error(), Retryable: e.Retryable}
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	if status, ok := statusByCode[apperr.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	body := errorBody(err)
	if status >= 500 && body.Code == "INTERNAL" {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", body.Code),
			zap.Error(err),
		)
	}
	if body.Retryable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorResponse{Error: body})
}

// validationError renders request validation failures in the common shape.
func validationError(w http.ResponseWriter, message string, statusCode int) {
	code := apperr.ErrInvalidArgument.Code
	if statusCode == http.StatusNotFound {
		code = "NOT_FOUND"
	} else if statusCode == http.StatusMethodNotAllowed {
		code = "METHOD_NOT_ALLOWED"
	}
	writeJSON(w, statusCode, errorResponse{Error: ErrorBody{Code: code, Message: message}})
}
