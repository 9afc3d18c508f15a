package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"cligate/internal/translator"
)

// sseWriter commits the event-stream headers on its first write, so a failure
// before any output can still be answered with an ordinary JSON error.
type sseWriter struct {
	c       echo.Context
	started bool
}

func newSSEWriter(c echo.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) Started() bool {
	return w.started
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	header := w.c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.c.Response().WriteHeader(http.StatusOK)
	w.started = true
}

func (w *sseWriter) writeRaw(frame []byte) error {
	w.start()
	if _, err := responseWriter(w.c).Write(frame); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	w.c.Response().Flush()
	return nil
}

// Event writes payload as one data frame.
func (w *sseWriter) Event(payload any) error {
	frame, err := translator.SSEFrame(payload)
	if err != nil {
		return err
	}
	return w.writeRaw(frame)
}

// Terminate ends the stream with the [DONE] marker.
func (w *sseWriter) Terminate() error {
	return w.writeRaw([]byte(translator.StreamTerminator))
}

// Fail reports err in-band. It must only be called once the stream started.
func (w *sseWriter) Fail(err error) error {
	return w.Event(translator.NewStreamError(streamErrorMessage(err)))
}

// chatSink turns backend fragments into chat.completion.chunk events.
type chatSink struct {
	w        *sseWriter
	model    string
	streamID string
	created  int64
	first    bool
}

func newChatSink(w *sseWriter, model string, created int64) *chatSink {
	return &chatSink{
		w:        w,
		model:    model,
		streamID: translator.NewStreamID(),
		created:  created,
		first:    true,
	}
}

func (s *chatSink) Fragment(text string) error {
	if text == "" {
		return nil
	}
	chunk := translator.FormatStreamChunk(text, s.model, s.streamID, s.created, s.first, false)
	s.first = false
	return s.w.Event(chunk)
}

// Done closes the stream. A run that produced no output still gets the
// role-bearing first chunk ahead of the finish chunk.
func (s *chatSink) Done() error {
	if s.first {
		s.first = false
		if err := s.w.Event(translator.FormatStreamChunk("", s.model, s.streamID, s.created, true, false)); err != nil {
			return err
		}
	}
	chunk := translator.FormatStreamChunk("", s.model, s.streamID, s.created, false, true)
	if err := s.w.Event(chunk); err != nil {
		return err
	}
	return s.w.Terminate()
}
