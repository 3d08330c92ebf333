package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/paircast/paircast/internal/platform/errors"
	"github.com/paircast/paircast/internal/services/messenger/auth"
	"github.com/paircast/paircast/internal/services/messenger/storage"
)

// registerHistoryRoutes wires the REST read surface: paginated history,
// unread aggregates, the conversation list, and the last-seen marker.
func registerHistoryRoutes(mux *http.ServeMux, coord *coordinator, store storage.MessageStore, validator auth.TokenValidator) {
	mux.HandleFunc("/api/messages/unread", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, validator, http.MethodGet)
		if !ok {
			return
		}
		counts, err := coord.unread(r.Context(), userID)
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		writeJSON(w, counts)
	})

	mux.HandleFunc("/api/messages/", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, validator, http.MethodGet)
		if !ok {
			return
		}
		peerID := strings.TrimPrefix(r.URL.Path, "/api/messages/")
		if peerID == "" || strings.Contains(peerID, "/") {
			http.Error(w, "peer id is required", http.StatusBadRequest)
			return
		}

		limit := defaultPageLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		var before time.Time
		if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				http.Error(w, "cursor must be an RFC 3339 timestamp", http.StatusBadRequest)
				return
			}
			before = parsed
		}

		page, err := coord.page(r.Context(), userID, peerID, limit, before)
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		writeJSON(w, page)
	})

	mux.HandleFunc("/api/chat/conversations", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, validator, http.MethodGet)
		if !ok {
			return
		}
		envelopes, err := coord.conversations(r.Context(), userID)
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		writeJSON(w, envelopes)
	})

	mux.HandleFunc("/api/chat/last-seen", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, validator, http.MethodPost)
		if !ok {
			return
		}
		if err := store.SetLastSeen(r.Context(), userID, coord.now()); err != nil {
			writeHTTPError(w, apperrors.Wrap(apperrors.CodeStorageFailure, "record last seen", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func requireUser(w http.ResponseWriter, r *http.Request, validator auth.TokenValidator, method string) (string, bool) {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	userID, err := authenticateRequest(r, validator)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func writeHTTPError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		status = domainErr.HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		log.Printf("messenger: request failed: %v", err)
	}
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("messenger: encode response: %v", err)
	}
}
