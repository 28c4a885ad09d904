package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes bounds request bodies read by DecodeJSON
const MaxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithError writes {"error": message} with the given status
func RespondWithError(w http.ResponseWriter, code int, message string) {
	_ = RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithJSON encodes payload before touching the response, so an
// unencodable payload turns into a 500 instead of a truncated body.
func RespondWithJSON(w http.ResponseWriter, code int, payload any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeJSON reads a single JSON object from the request body into v
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}
