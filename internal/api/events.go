package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hollandpark/upb-bridge/internal/bridge"
)

// EventResponse is one history entry in API responses.
type EventResponse struct {
	ID            int64  `json:"id"`
	OccurredAt    string `json:"occurred_at"`
	Type          string `json:"type"`
	NetworkID     int    `json:"network_id"`
	SourceID      int    `json:"source_id"`
	DestinationID int    `json:"destination_id"`
	Arguments     string `json:"arguments"`
}

// handleListEvents returns recent powerline events, newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50, max 200)
//   - network_id, source_id: filter to one transmitting device
//     (both must be given together)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "event history not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	networkRaw := r.URL.Query().Get("network_id")
	sourceRaw := r.URL.Query().Get("source_id")
	if (networkRaw == "") != (sourceRaw == "") {
		writeBadRequest(w, "network_id and source_id must be given together")
		return
	}

	var events []bridge.Event
	var err error
	if networkRaw != "" {
		networkID, perr := parseByte(networkRaw)
		if perr != nil {
			writeBadRequest(w, "network_id must be 0-255")
			return
		}
		sourceID, perr := parseByte(sourceRaw)
		if perr != nil {
			writeBadRequest(w, "source_id must be 0-255")
			return
		}
		events, err = s.events.EventsForSource(r.Context(), networkID, sourceID, limit)
	} else {
		events, err = s.events.RecentEvents(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("event history query failed", "error", err)
		writeInternalError(w, "event history query failed")
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, EventResponse{
			ID:            event.ID,
			OccurredAt:    event.OccurredAt.UTC().Format(time.RFC3339),
			Type:          event.Type,
			NetworkID:     event.NetworkID,
			SourceID:      event.SourceID,
			DestinationID: event.DestinationID,
			Arguments:     bridge.EncodeArguments(event.Arguments),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"count":  len(out),
	})
}

// parseByte parses a decimal byte value.
func parseByte(raw string) (byte, error) {
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
