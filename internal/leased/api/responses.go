package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/api"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusOK, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteCreated writes a 201 JSON response.
func WriteCreated[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusCreated, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteErrorResponse logs the error and translates it into an enveloped
// HTTP error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	requestID := GetRequestID(ctx)

	status, code, message, metadata := describeError(err)
	logFailure(r, status, err)

	_ = WriteJSON(w, status, api.Response[any]{
		Success: false,
		Error: &api.ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
			Metadata:  metadata,
		},
	})
}

// writeLegacyError writes the flat {"error": "..."} body the storefront expects.
func writeLegacyError(w http.ResponseWriter, r *http.Request, err error) {
	status, _, message, _ := describeError(err)
	logFailure(r, status, err)
	_ = WriteJSON(w, status, api.LegacyError{Error: message})
}

func logFailure(r *http.Request, status int, err error) {
	logger := GetLogger(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorCtx(r.Context(), "API request failed", err)
		return
	}
	logger.WarnErr(r.Context(), "API request rejected", err)
}

func describeError(err error) (status int, code, message string, metadata map[string]any) {
	domainErr, ok := apperrors.AsDomainError(err)
	if !ok {
		return http.StatusInternalServerError, apperrors.ErrCodeInternal, "An internal server error occurred", nil
	}
	status, message = mapErrorCodeToHTTP(err, domainErr)
	return status, domainErr.Code(), message, domainErr.Metadata()
}

// mapErrorCodeToHTTP maps domain error codes to HTTP status codes and messages.
func mapErrorCodeToHTTP(err error, domainErr apperrors.DomainError) (int, string) {
	switch domainErr.Code() {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeInvalidTier:
		return http.StatusBadRequest, "Validation failed: " + messageOf(domainErr)

	case apperrors.ErrCodeLeaseNotFound:
		return http.StatusNotFound, "Lease not found"

	// revocation failures surface through force-expire; the lease stays active
	case apperrors.ErrCodeKeyNotFound, apperrors.ErrCodeWireGuardError, apperrors.ErrCodeWireGuardTimeout,
		apperrors.ErrCodeConfigFileError, apperrors.ErrCodeConfigFileChanged, apperrors.ErrCodeProfileError:
		return http.StatusInternalServerError, "Revocation failed, lease remains active: " + err.Error()

	case apperrors.ErrCodePersistence:
		return http.StatusInternalServerError, "Failed to persist lease state"

	default:
		return http.StatusInternalServerError, "An internal server error occurred"
	}
}

func messageOf(err apperrors.DomainError) string {
	if m, ok := err.(interface{ Message() string }); ok {
		return m.Message()
	}
	return err.Error()
}
