package broker

import "encoding/json"

// FrameKind tags the outcome of decoding one inbound frame, replacing
// exceptions-for-control-flow with a result variant the dispatcher switches
// on.
type FrameKind int

const (
	// FrameKindMessage is a well-formed JSON object frame with a string type.
	FrameKindMessage FrameKind = iota
	// FrameKindPassthrough is non-JSON bytes from a sender already in a room;
	// forwarded verbatim to the room, never parsed.
	FrameKindPassthrough
	// FrameKindProtocolError is a frame that fails a structural rule: oversize
	// (rejected before parsing), or valid JSON with a non-object root,
	// prototype-polluting keys, or a missing or empty type field.
	FrameKindProtocolError
	// FrameKindDropped is invalid JSON from a sender with no room — the
	// fall-through rule has nothing to fall through to, so the frame is
	// dropped silently rather than answered with an error.
	FrameKindDropped
)

// Decoded is the result of Decode.
type Decoded struct {
	Kind  FrameKind
	Frame Frame
	Raw   []byte
}

// reservedKeys guards against prototype-pollution-style payloads reaching
// downstream JSON re-encoding or (if ever bridged to a scripting runtime)
// object construction.
var reservedKeys = [...]string{"__proto__", "constructor", "prototype"}

// Decode parses one inbound frame. maxPayload <= 0 disables the size check
// (the transport layer is expected to enforce it via SetReadLimit; this is
// a defensive second check for callers that feed Decode directly, e.g.
// tests). senderHasRoom selects the fall-through rule: bytes that aren't
// even valid JSON fall through to a room broadcast when the sender has one,
// or get dropped silently when it doesn't — there is nothing to relay to. A
// root that parses but isn't a JSON object is always a protocol error,
// never a fall-through candidate, regardless of room membership.
func Decode(data []byte, maxPayload int64, senderHasRoom bool) Decoded {
	if maxPayload > 0 && int64(len(data)) > maxPayload {
		return Decoded{Kind: FrameKindProtocolError}
	}

	if !json.Valid(data) {
		if senderHasRoom {
			return Decoded{Kind: FrameKindPassthrough, Raw: data}
		}
		return Decoded{Kind: FrameKindDropped}
	}

	var v interface{}
	_ = json.Unmarshal(data, &v) // data is already known-valid JSON

	raw, ok := v.(map[string]interface{})
	if !ok {
		return Decoded{Kind: FrameKindProtocolError}
	}

	for _, key := range reservedKeys {
		if _, ok := raw[key]; ok {
			return Decoded{Kind: FrameKindProtocolError}
		}
	}

	typ, ok := raw["type"].(string)
	if !ok || typ == "" {
		return Decoded{Kind: FrameKindProtocolError}
	}

	return Decoded{Kind: FrameKindMessage, Frame: Frame(raw)}
}
