package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/lucasnoah/writefactory/internal/progress"
	"github.com/lucasnoah/writefactory/internal/registry"
)

// handleStream serves a run's progress as Server-Sent Events. Each event
// carries its sequence number as the SSE id, so a reconnecting client that
// sends Last-Event-ID resumes after the last event it saw. The stream ends
// after the terminal result event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	after, err := resumeAfter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	rec, err := s.svc.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	// 204 tells EventSource to stop reconnecting once the client has the
	// terminal event
	if s.acknowledged(rec, after) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sub, err := s.svc.Subscribe(id, after)
	if errors.Is(err, progress.ErrUnknownRun) {
		// the event log has been released; answer from the registry, unless
		// the terminal seq is unknown and the client may already have it
		if rec.Status.Terminal() && rec.LastSeq == 0 && after > 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		setStreamHeaders(w)
		w.WriteHeader(http.StatusOK)
		writeEvent(w, resultFromRecord(rec))
		flusher.Flush()
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	tick := time.NewTicker(s.heartbeat)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.log.Debug().Err(err).Str("run_id", id).Msg("stream write")
				return
			}
			flusher.Flush()
		}
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present
}

func writeEvent(w http.ResponseWriter, ev progress.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// resumeAfter reads Last-Event-ID, or the ?after= query parameter for
// clients that cannot set headers.
func resumeAfter(r *http.Request) (uint64, error) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("after")
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Last-Event-ID %q", v)
	}
	return n, nil
}

// acknowledged reports whether a client resuming after seq has already
// received the run's terminal event. The retained log is checked first
// since the record's last seq is written just after the terminal publish.
func (s *Server) acknowledged(rec registry.Record, after uint64) bool {
	if after == 0 {
		return false
	}
	if last, ok := s.svc.LastEvent(rec.ID); ok && last.Terminal() {
		return after >= last.Seq
	}
	return rec.Status.Terminal() && rec.LastSeq > 0 && after >= rec.LastSeq
}

// resultFromRecord builds a closing event for a run whose event log has
// expired. Runs that are still going get a progress snapshot instead.
func resultFromRecord(rec registry.Record) progress.Event {
	ev := progress.Event{
		Type:      progress.TypeResult,
		RunID:     rec.ID,
		Step:      rec.Step,
		StepIndex: rec.StepIndex,
		StepCount: rec.StepCount,
		Status:    string(rec.Status),
		ResultID:  rec.ResultID,
		Error:     rec.Error,
		ErrorKind: rec.ErrorKind,
		Seq:       rec.LastSeq,
		Time:      rec.UpdatedAt,
	}
	if !rec.Status.Terminal() {
		ev.Type = progress.TypeProgress
	}
	return ev
}
