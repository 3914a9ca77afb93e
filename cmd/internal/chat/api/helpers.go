package chatapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courier/cmd/internal/chat"
)

// parseWindow reads page/limit/token query parameters. Out-of-range values
// are coerced to the defaults rather than rejected.
func parseWindow(r *http.Request) (chat.Window, error) {
	w := chat.Window{Page: chat.DefaultPage, Limit: chat.DefaultLimit}

	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
			w.Page = n
		}
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 100 {
			w.Limit = n
		}
	}
	if raw := strings.TrimSpace(q.Get("token")); raw != "" {
		tok, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return chat.Window{}, err
		}
		w.Token = tok
	}
	return w, nil
}

func encodeToken(tok []byte) string {
	if len(tok) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(tok)
}

// parseBefore reads the before_timestamp query parameter (RFC 3339).
func parseBefore(r *http.Request) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("before_timestamp"))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	utc := t.UTC()
	return &utc, nil
}

// writeChatError maps chat error kinds onto HTTP statuses.
func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case chat.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case chat.IsForbidden(err):
		writeError(w, http.StatusForbidden, "forbidden", "not a participant of this conversation")
	case chat.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
