package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gookit/goutil"
)

// Response is the standard API response wrapper
type Response[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo contains detailed error information
type ErrorInfo struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FlexInt decodes a JSON number or a numeric string.
// The storefront has historically sent duration_minutes both ways.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	n, err := goutil.ToInt(raw)
	if err != nil {
		return fmt.Errorf("not an integer: %s", string(data))
	}
	*f = FlexInt(n)
	return nil
}

// IntPtr converts an optional FlexInt into an optional int.
func (f *FlexInt) IntPtr() *int {
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}
