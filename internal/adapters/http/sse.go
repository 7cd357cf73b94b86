package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/retracehq/retrace/internal/core/domain"
	"github.com/retracehq/retrace/internal/core/ports"
)

// streamRecall runs the recall pipeline and writes each event as an SSE
// frame. Errors before the first frame still map to a JSON error status;
// once a frame has gone out the status is committed, so a late failure can
// only end the stream.
func streamRecall(w http.ResponseWriter, r *http.Request, recall ports.RecallService, q domain.Query) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}

	var headersSent bool
	emit := func(event domain.StreamEvent) error {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}

		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := recall.RecallStream(r.Context(), q, emit); err != nil {
		if !headersSent {
			writeError(w, err)
			return
		}
		slog.Error("recall_stream_aborted",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
}
