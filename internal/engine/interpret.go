package engine

import "github.com/ggoodman/ssebridge/sse"

type action int

const (
	actionForward action = iota + 1
	actionProbe
	actionDisconnect
	actionIgnore
)

func (a action) String() string {
	switch a {
	case actionForward:
		return "forward"
	case actionProbe:
		return "probe"
	case actionDisconnect:
		return "disconnect"
	case actionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

type decision struct {
	action  action
	control sse.Control
	segment Segment
}

// interpret classifies a published bus payload. Malformed payloads yield a
// *DecodeError; unknown control signals are ignored rather than rejected.
func interpret(payload []byte) (decision, error) {
	env, err := sse.DecodeEnvelope(payload)
	if err != nil {
		return decision{}, &DecodeError{Payload: payload, Err: err}
	}

	if env.IsControl {
		switch env.Control {
		case sse.ControlHealthCheck:
			return decision{action: actionProbe, control: env.Control}, nil
		case sse.ControlDisconnect:
			return decision{action: actionDisconnect, control: env.Control}, nil
		default:
			return decision{action: actionIgnore, control: env.Control}, nil
		}
	}

	msg := env.Message
	wire, err := msg.Encode()
	if err != nil {
		return decision{}, &DecodeError{Payload: payload, Err: err}
	}
	return decision{action: actionForward, segment: Segment{Kind: SegmentEvent, Data: wire, Message: &msg}}, nil
}
