package localapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/attendance-io/station-agent/internal/intake"
)

// broadcaster fans out the three collaborator-facing signals (spec.md §6:
// connection_status_changed, sync_stage_changed, duplicate_detected) to every connected
// GET /v1/events subscriber as server-sent events. Grounded on the non-blocking
// subscribe/publish idiom shared by internal/connectivity.Oracle and internal/sync.Engine's
// own Subscribe methods, applied here to HTTP responses instead of channels held by a
// single in-process caller.
type broadcaster struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan SignalEnvelope]struct{}
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{logger: logger, subs: make(map[chan SignalEnvelope]struct{})}
}

// subscribe registers a new SSE client and returns an unsubscribe func.
func (b *broadcaster) subscribe() (chan SignalEnvelope, func()) {
	ch := make(chan SignalEnvelope, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// publish fans payload out to every subscriber. Delivery is non-blocking: a subscriber
// whose buffer is full has its notification dropped rather than stalling the Oracle or
// Sync Engine goroutine that triggered it (spec.md §5: no operation may block the main
// sequence).
func (b *broadcaster) publish(signal string, payload interface{}) {
	envelope := SignalEnvelope{Signal: signal, Emitted: time.Now().UTC(), Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- envelope:
		default:
			b.logger.Warn("local api signal dropped: subscriber full", slog.String("signal", signal))
		}
	}
}

// PublishDuplicateDetected fans out the duplicate_detected signal (spec.md §6), called by
// cmd/agent from intake.Service.OnDuplicate regardless of the configured DuplicatePolicy
// (internal/intake.DuplicateNotification is emitted for block/warn/silent alike).
func (s *Server) PublishDuplicateDetected(n intake.DuplicateNotification) {
	s.broadcast.publish("duplicate_detected", DuplicateDetectedPayload{
		BadgeID:     n.BadgeID,
		StationName: n.StationName,
	})
}

// closeAll closes every subscriber channel, ending their SSE streams. Called from
// Server.Shutdown.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

// handleEvents serves GET /v1/events: a long-lived server-sent-events stream carrying every
// connection_status_changed / sync_stage_changed / duplicate_detected signal (spec.md §6)
// for the lifetime of the connection.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorResponse(w, r, s.logger, InternalServerError("streaming unsupported"))

		return
	}

	ch, unsubscribe := s.broadcast.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case envelope, open := <-ch:
			if !open {
				return
			}

			data, err := json.Marshal(envelope)
			if err != nil {
				s.logger.Error("local api: encode signal failed", slog.Any("error", err))

				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", envelope.Signal, data)
			flusher.Flush()
		}
	}
}
