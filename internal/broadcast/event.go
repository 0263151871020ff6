// Package broadcast fans mission lifecycle events out to connected clients.
package broadcast

import (
	"encoding/json"
	"time"
)

// OrchestratorID is the agent_id used for pipeline-level events.
const OrchestratorID = "orchestrator"

// Event is one lifecycle event. Every event carries agent_id, type and an
// ISO-8601 UTC timestamp; type-dependent payload fields live in Extra and are
// flattened into the top-level JSON object on the wire.
type Event struct {
	AgentID   string
	Type      string
	Text      string
	Timestamp string
	Extra     map[string]any
}

// New builds an event stamped with the current UTC time.
func New(agentID, eventType, text string) Event {
	return Event{
		AgentID:   agentID,
		Type:      eventType,
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// With returns a copy of the event carrying an extra payload field.
func (e Event) With(key string, value any) Event {
	extra := make(map[string]any, len(e.Extra)+1)
	for k, v := range e.Extra {
		extra[k] = v
	}
	extra[key] = value
	e.Extra = extra
	return e
}

// MarshalJSON flattens Extra into the top-level object. Fixed fields win on
// key collision.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		obj[k] = v
	}
	obj["agent_id"] = e.AgentID
	obj["type"] = e.Type
	obj["timestamp"] = e.Timestamp
	if e.Text != "" {
		obj["text"] = e.Text
	}
	return json.Marshal(obj)
}

// UnmarshalJSON splits the fixed fields back out of the flat object.
func (e *Event) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.AgentID, _ = obj["agent_id"].(string)
	e.Type, _ = obj["type"].(string)
	e.Text, _ = obj["text"].(string)
	e.Timestamp, _ = obj["timestamp"].(string)
	delete(obj, "agent_id")
	delete(obj, "type")
	delete(obj, "text")
	delete(obj, "timestamp")
	if len(obj) > 0 {
		e.Extra = obj
	} else {
		e.Extra = nil
	}
	return nil
}

// Func is the broadcast handle threaded through the pipeline, executor and
// agent manager. The transport behind it is collaborator-owned.
type Func func(Event)
