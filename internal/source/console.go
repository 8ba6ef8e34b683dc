// Package source provides audience event sources. The livestream wire
// protocol lives behind the pipeline's Source interface; this package ships a
// console source for local development.
package source

import (
	"bufio"
	"io"
	"log/slog"
	"strings"

	"github.com/lumen-live/cohost/internal/models"
)

// Console reads "name: message" lines from a reader and emits them as chat
// events. Lines without a colon are attributed to a default sender. It exists
// so the whole pipeline can be exercised from a terminal.
type Console struct {
	events chan models.Event
}

// NewConsole starts reading r in a goroutine and returns the source. The
// events channel closes when r reaches EOF.
func NewConsole(r io.Reader) *Console {
	c := &Console{events: make(chan models.Event)}
	go c.read(r)
	return c
}

// Events returns the event stream.
func (c *Console) Events() <-chan models.Event {
	return c.events
}

func (c *Console) read(r io.Reader) {
	defer close(c.events)
	scanner := bufio.NewScanner(r)
	var nextID int64 = 1000
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, msg := "console", line
		if i := strings.Index(line, ":"); i > 0 {
			name = strings.TrimSpace(line[:i])
			msg = strings.TrimSpace(line[i+1:])
		}
		if msg == "" {
			continue
		}
		nextID++
		c.events <- models.Event{
			SenderID:    nextID,
			DisplayName: name,
			Kind:        models.EventMessage,
			Payload:     msg,
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("source.Console: read failed", "error", err)
	}
}
