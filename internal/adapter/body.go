package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BodyError is a rejected request body. It unwraps to ErrMalformedBody.
type BodyError struct {
	Status int
	Reason string
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedBody, e.Reason)
}

func (e *BodyError) Unwrap() error {
	return ErrMalformedBody
}

// ReadBody reads at most limit bytes of r's body and decodes them as JSON.
func ReadBody(r *http.Request, w http.ResponseWriter, limit int64) (any, error) {
	if r.Body == nil {
		return nil, &BodyError{Status: http.StatusBadRequest, Reason: "body is missing"}
	}
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &BodyError{
				Status: http.StatusRequestEntityTooLarge,
				Reason: fmt.Sprintf("body exceeds %d bytes", limit),
			}
		}
		return nil, &BodyError{Status: http.StatusBadRequest, Reason: "body could not be read"}
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, &BodyError{Status: http.StatusBadRequest, Reason: "body is empty"}
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &BodyError{Status: http.StatusBadRequest, Reason: "body is not valid JSON"}
	}
	return body, nil
}
