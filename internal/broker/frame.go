package broker

import "encoding/json"

// Frame is one decoded JSON control frame. It is a bare map rather than a
// fixed struct because the broker never interprets payload fields beyond
// type/to/room — offer, answer, and ice-candidate bodies are opaque to it.
type Frame map[string]interface{}

// Type returns the frame's "type" field, or "" if missing or not a string.
func (f Frame) Type() string {
	t, _ := f["type"].(string)
	return t
}

// To returns the frame's "to" field and whether the key was present at all
// (an empty string counts as present; the dispatcher's same-room routing
// rule then rejects it as an unavailable target).
func (f Frame) To() (string, bool) {
	v, ok := f["to"]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// Room returns the frame's "room" field, used by join-room.
func (f Frame) Room() string {
	r, _ := f["room"].(string)
	return r
}

// WithFrom returns a copy of f with "from" set to id. All other fields are
// preserved unchanged, satisfying the relay content rule.
func (f Frame) WithFrom(id string) Frame {
	clone := make(Frame, len(f)+1)
	for k, v := range f {
		clone[k] = v
	}
	clone["from"] = id
	return clone
}

// Encode serializes the frame as compact JSON.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(map[string]interface{}(f))
}

// newErrorFrame builds a server "error" frame.
func newErrorFrame(message, to string) Frame {
	f := Frame{"type": "error", "message": message}
	if to != "" {
		f["to"] = to
	}
	return f
}
