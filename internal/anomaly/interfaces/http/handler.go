package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	anomaly "solarwatch/internal/anomaly/domain"
	"solarwatch/internal/anomaly/ledger"
)

// Handler serves the active-issues API.
type Handler struct {
	ledger *ledger.Ledger
}

// NewHandler constructs a handler.
func NewHandler(issueLedger *ledger.Ledger) (*Handler, error) {
	if issueLedger == nil {
		return nil, errors.New("issues handler: nil ledger")
	}
	return &Handler{ledger: issueLedger}, nil
}

type issueResponse struct {
	ID         string           `json:"id"`
	Key        anomaly.IssueKey `json:"key"`
	NotifiedAt time.Time        `json:"notified_at"`
	Details    string           `json:"details"`
	Message    string           `json:"message"`
}

// ServeHTTP handles GET /api/v1/issues with optional plant and kind
// filters.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	plant := r.URL.Query().Get("plant")
	kind := anomaly.IssueKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}

	entries := h.ledger.Entries()
	issues := make([]issueResponse, 0, len(entries))
	for _, entry := range entries {
		if plant != "" && entry.Key.Plant != plant {
			continue
		}
		if kind != "" && entry.Key.Kind != kind {
			continue
		}
		issues = append(issues, issueResponse{
			ID:         entry.Key.String(),
			Key:        entry.Key,
			NotifiedAt: entry.NotifiedAt,
			Details:    entry.Details,
			Message:    entry.Message,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(issues)
}
