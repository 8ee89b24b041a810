package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vpanel/core/pkg/api"
	apperrors "github.com/vpanel/core/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response
func WriteSuccess[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusOK, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteAccepted writes a 202 response for work that continues asynchronously
func WriteAccepted[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusAccepted, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteErrorResponse logs the error and translates DomainErrors into the
// matching HTTP responses
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := GetLogger(ctx)
	requestID := GetRequestID(ctx)

	statusCode := http.StatusInternalServerError
	errorCode := apperrors.ErrCodeInternal
	message := "An internal server error occurred"
	metadata := make(map[string]any)

	var domainErr apperrors.DomainError
	if errors.As(err, &domainErr) {
		errorCode = domainErr.Code()
		metadata = domainErr.Metadata()
		statusCode, message = mapErrorCodeToHTTP(domainErr)
	}

	if statusCode >= 500 {
		logger.ErrorCtx(ctx, "API request failed", err)
	} else {
		logger.WarnContext(ctx, "API request rejected",
			"code", errorCode, "error", err.Error())
	}

	_ = WriteJSON(w, statusCode, api.Response[any]{
		Success: false,
		Error: &api.ErrorInfo{
			Code:      errorCode,
			Message:   message,
			RequestID: requestID,
			Metadata:  metadata,
		},
	})
}

// mapErrorCodeToHTTP maps domain error codes to HTTP status codes and
// user-facing messages
func mapErrorCodeToHTTP(err apperrors.DomainError) (int, string) {
	switch err.Code() {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeNodeValidation, apperrors.ErrCodeSubscriptionValidation:
		return http.StatusBadRequest, err.Error()

	case apperrors.ErrCodeNodeNotFound, apperrors.ErrCodeDeploymentNotFound, apperrors.ErrCodeSubscriptionNotFound:
		return http.StatusNotFound, err.Error()

	case apperrors.ErrCodeDuplicateHost:
		return http.StatusConflict, err.Error()

	case apperrors.ErrCodeCapacityExceeded:
		return http.StatusServiceUnavailable, "no capacity available on this node, try again later"

	case apperrors.ErrCodeNodeDisabled:
		return http.StatusConflict, err.Error()

	case apperrors.ErrCodePaymentFailed, apperrors.ErrCodeAutoRenewDisabled:
		return http.StatusPaymentRequired, err.Error()

	case apperrors.ErrCodeDeploymentTimeout, apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout, err.Error()

	case apperrors.ErrCodeSSHConnection, apperrors.ErrCodeSSHCommand, apperrors.ErrCodeProviderError:
		return http.StatusBadGateway, err.Error()

	default:
		return http.StatusInternalServerError, "An internal server error occurred"
	}
}
