package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/api"
)

const maxBodyBytes = 64 << 10

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve ValidationErrors) Error() string {
	var messages []string
	for _, err := range ve.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

func asValidation(err error) apperrors.DomainError {
	de := apperrors.NewDomainAPIError(apperrors.ErrCodeValidation, err.Error(), false, err)
	if ve, ok := err.(ValidationErrors); ok {
		de = de.WithMetadata("fields", ve.Errors)
	}
	return de
}

// ValidateCreateLeaseRequest checks required fields. Format rules for ids
// and tier defaults are enforced by the lease manager.
func ValidateCreateLeaseRequest(req *api.CreateLeaseRequest) error {
	var errors []ValidationError

	if strings.TrimSpace(req.LeaseID) == "" {
		errors = append(errors, ValidationError{
			Field:   "lease_id",
			Message: "lease_id is required and cannot be empty",
		})
	}
	if strings.TrimSpace(req.Tier) == "" {
		errors = append(errors, ValidationError{
			Field:   "tier",
			Message: "tier is required and cannot be empty",
		})
	}
	if req.DurationMinutes != nil && *req.DurationMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "duration_minutes",
			Message: "duration_minutes must be >= 0",
		})
	}

	if len(errors) > 0 {
		return ValidationErrors{Errors: errors}
	}
	return nil
}

// ValidateLeaseListParams validates query parameters for lease listing
func ValidateLeaseListParams(r *http.Request) (api.LeaseListParams, error) {
	var params api.LeaseListParams

	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		if status != "active" && status != "expired" {
			return params, ValidationErrors{Errors: []ValidationError{{
				Field:   "status",
				Message: "status must be one of: active, expired",
			}}}
		}
		params.Status = status
	}
	params.Tier = strings.TrimSpace(r.URL.Query().Get("tier"))

	return params, nil
}

// ParseJSONRequest decodes a JSON body, rejecting unknown fields.
func ParseJSONRequest[T any](r *http.Request, target *T) error {
	return decodeJSON(r, target, true)
}

// parseLegacyRequest decodes a storefront body. The storefront sends
// extra order fields, so unknown keys are ignored.
func parseLegacyRequest[T any](r *http.Request, target *T) error {
	return decodeJSON(r, target, false)
}

func decodeJSON(r *http.Request, target any, strict bool) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return fmt.Errorf("content-type must be application/json")
		}
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if strict {
		decoder.DisallowUnknownFields()
	}

	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
