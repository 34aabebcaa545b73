package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/dratasich/telemetry-cache/normalize"
)

const (
	maxBodyBytes     = 1 << 20
	parsePreviewLen  = 120
	echoPreviewLen   = 200
	emptyBodyMessage = "Empty body or not JSON. Send a JSON object with Content-Type: application/json."
	badJSONMessage   = "Body is not valid JSON."
)

// errorBody is the JSON shape of every error response. The optional
// fields describe rejected request bodies.
type errorBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
	ParseError    string `json:"parse_error,omitempty"`
	RawPreview    string `json:"raw_preview,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Msgf("Failed to encode response: %s", err)
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

// writeValidationError maps a normalizer failure to 400.
func writeValidationError(w http.ResponseWriter, err error) {
	body := errorBody{Error: string(normalize.MalformedInput), Message: err.Error()}
	var verr *normalize.Error
	if errors.As(err, &verr) {
		body.Error = string(verr.Kind)
	}
	writeError(w, http.StatusBadRequest, body)
}

func readBody(r *http.Request) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	return string(raw), err
}

// decodeBody reads a JSON request body. On failure it writes the 400
// response itself and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request) (any, bool) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Error: "MalformedInput", Message: "Failed to read body: " + err.Error()})
		return nil, false
	}

	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, errorBody{
			Error:         "MalformedInput",
			Message:       emptyBodyMessage,
			ContentType:   r.Header.Get("Content-Type"),
			ContentLength: max(r.ContentLength, 0),
		})
		return nil, false
	}

	v, err := normalize.DecodeJSON([]byte(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{
			Error:         "MalformedInput",
			Message:       badJSONMessage,
			ContentType:   r.Header.Get("Content-Type"),
			ContentLength: max(r.ContentLength, 0),
			ParseError:    err.Error(),
			RawPreview:    preview(raw, parsePreviewLen),
		})
		return nil, false
	}
	return v, true
}

// preview returns at most n characters of s without splitting a rune.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
