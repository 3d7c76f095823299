package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// QueryRequest is the body of a query submitted to the analysis service.
type QueryRequest struct {
	Prompt string `json:"prompt"`
}

// QueryResponse is the decoded answer of the analysis service. Visualization is empty when the answer is
// text only.
type QueryResponse struct {
	Visualization string `json:"visualization"`
	Description   string `json:"description"`
}

// UploadAck is the acknowledgement returned after a dataset is ingested.
type UploadAck struct {
	Columns []string         `json:"columns"`
	Sample  []map[string]any `json:"sample"`
}

// ErrorBody is the body the analysis service sends along a non-success status.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// ErrMalformedResponse is returned when the analysis service answers with a body that can't be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// APIError is returned when the analysis service answers with a non-success status.
type APIError struct {
	StatusCode int
	// Detail is the server-supplied message, it may be empty when the body carries none.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("analysis service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("analysis service returned status %d: %s", e.StatusCode, e.Detail)
}

// UnmarshalJSON accepts the visualization either as a serialized string or as an embedded document, and
// normalizes both to the serialized form. A falsy visualization (null, false, 0 or "") means the answer
// is text only.
func (q *QueryResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Visualization json.RawMessage `json:"visualization"`
		Description   *string         `json:"description"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	q.Visualization = ""
	q.Description = ""
	if raw.Description != nil {
		q.Description = *raw.Description
	}

	switch {
	case falsy(raw.Visualization):
	case raw.Visualization[0] == '"':
		if err := json.Unmarshal(raw.Visualization, &q.Visualization); err != nil {
			return fmt.Errorf("failed to decode visualization: %w", err)
		}
	default:
		q.Visualization = string(raw.Visualization)
	}

	return nil
}

func falsy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case float64:
		return v == 0
	case string:
		return v == ""
	default:
		return false
	}
}
