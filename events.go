package govqmt

import (
	"encoding/json"
	"fmt"
)

// EventType is the "event" field of an engine notification.
type EventType string

const (
	EventPrepareStart    EventType = "PrepareStart"
	EventPrepareComplete EventType = "PrepareComplete"
	EventMeasureComplete EventType = "MeasureComplete"
)

// milestone maps the event onto the latch it releases, if any.
func (t EventType) milestone() (Milestone, bool) {
	switch t {
	case EventPrepareStart:
		return MilestonePrepareStart, true
	case EventPrepareComplete:
		return MilestonePrepareComplete, true
	case EventMeasureComplete:
		return MilestoneMeasureComplete, true
	}
	return 0, false
}

// Event is one notification from the engine's event channel. Fields holds
// every key of the payload, including "event".
type Event struct {
	Type   EventType
	Fields map[string]any
	Raw    Document
}

func parseEvent(text string) (Event, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return Event{}, fmt.Errorf("govqmt: bad event payload: %w", err)
	}
	name, _ := fields["event"].(string)
	return Event{
		Type:   EventType(name),
		Fields: fields,
		Raw:    NewDocument([]byte(text)),
	}, nil
}

// EventFunc observes engine events. It runs on an engine-owned thread and
// may run concurrently with any caller goroutine.
type EventFunc func(Event)

// ValueFunc observes per-frame values as they are computed. handle is the
// job's engine handle. It runs on an engine-owned thread.
type ValueFunc func(handle, frame, column int, value float64)
