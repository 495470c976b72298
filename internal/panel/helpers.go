package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cast"

	"github.com/rendis/taskweave/pkg/schema"
)

// maxBodyBytes bounds request bodies; workflow documents are small.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCodedError writes err with the status its error code maps to.
func writeCodedError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	if code := schema.CodeOf(err); code != "" {
		body["code"] = code
	}
	writeJSON(w, statusFor(err), body)
}

// statusFor maps a WeaveError code to an HTTP status.
func statusFor(err error) int {
	switch schema.CodeOf(err) {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeValidation,
		schema.ErrCodeInvalidWorkflowFormat,
		schema.ErrCodeTaskNotFound,
		schema.ErrCodeMissingTaskReference,
		schema.ErrCodeOrphanPreviousOutput,
		schema.ErrCodeCycleDetected,
		schema.ErrCodeUnsupportedStepKind:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeCancelled:
		return http.StatusRequestTimeout
	case schema.ErrCodeRetryExhausted:
		return http.StatusBadGateway
	}
	var weaveErr *schema.WeaveError
	if errors.As(err, &weaveErr) {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	return data, nil
}

// decodeJSON decodes an optional JSON body into v. An empty body is not an
// error.
func decodeJSON(r *http.Request, v any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// stringMap coerces a JSON object of scalars into input strings, so
// {"n": 3} and {"n": "3"} mean the same thing.
func stringMap(raw map[string]any) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryBool extracts a boolean query param; absent or malformed is false.
func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
