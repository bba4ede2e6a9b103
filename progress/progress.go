// Package progress delivers batch status events to interested parties: a
// logger, a callback, or WebSocket clients through a Hub.
//
// Publish is called from worker goroutines and must not block them; sinks that
// cannot keep up drop events rather than apply backpressure.
package progress

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Event types.
const (
	TypeItem = "item_update"
	TypeRun  = "run_complete"
)

// Event reports a state change of one batch item, or the end of a run.
type Event struct {
	Type   string    `json:"type"`
	RunID  string    `json:"run_id"`
	ItemID string    `json:"item_id,omitempty"`
	Index  int       `json:"index"` // 1-based position of the item, 0 for run events
	Total  int       `json:"total"`
	Input  string    `json:"input,omitempty"`
	Output string    `json:"output,omitempty"`
	State  string    `json:"state"`
	Error  string    `json:"error,omitempty"`
	Pages  int       `json:"pages,omitempty"`
	Bytes  int64     `json:"bytes,omitempty"`
	Time   time.Time `json:"timestamp"`

	Succeeded int `json:"succeeded,omitempty"` // run events only
	Failed    int `json:"failed,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(Event)
}

// Func adapts a function to the Sink interface. The function is called on
// the publishing goroutine.
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = Func(func(Event) {})

type multi []Sink

func (m multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}

// Multi returns a sink that publishes to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// Log writes one line per event to a *log.Logger.
type Log struct {
	Logger *log.Logger // nil means the standard logger
	mu     sync.Mutex
}

// NewLog returns a Log sink writing to l.
func NewLog(l *log.Logger) *Log {
	return &Log{Logger: l}
}

func (s *Log) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	printf := log.Printf
	if s.Logger != nil {
		printf = s.Logger.Printf
	}
	printf("%s", Format(e))
}

// Format renders an event as a log line with a bracketed level prefix.
func Format(e Event) string {
	if e.Type == TypeRun {
		level := "[INFO]"
		if e.Failed > 0 {
			level = "[WARN]"
		}
		return fmt.Sprintf("%s run %s finished: %d succeeded, %d failed", level, e.RunID, e.Succeeded, e.Failed)
	}
	switch {
	case e.Error != "":
		return fmt.Sprintf("[ERROR] %d/%d %s: %s: %s", e.Index, e.Total, e.Input, e.State, e.Error)
	case e.Pages > 0:
		return fmt.Sprintf("[INFO] %d/%d %s: %s -> %s (%d pages, %d bytes)",
			e.Index, e.Total, e.Input, e.State, e.Output, e.Pages, e.Bytes)
	default:
		return fmt.Sprintf("[INFO] %d/%d %s: %s", e.Index, e.Total, e.Input, e.State)
	}
}
