package call

import (
	"encoding/json"
	"fmt"
)

// Action names carried by inbound control frames.
const (
	ActionAccepted   = "accepted"
	ActionRejected   = "rejected"
	ActionEnded      = "ended"
	ActionDTMF       = "dtmf"
	ActionAudioStart = "audioStart"
	ActionAudioEnd   = "audioEnd"
)

// Commands sent to the companion.
const (
	CommandAudioStart = "audioStart"
	CommandAudioEnd   = "audioEnd"
	CommandEnd        = "end"
)

type controlFrame struct {
	Command string `json:"command"`
}

type inboundFrame struct {
	Action  string       `json:"action"`
	Payload *dtmfPayload `json:"payload,omitempty"`
}

type dtmfPayload struct {
	Digit string `json:"digit"`
}

func encodeCommand(command string) []byte {
	raw, _ := json.Marshal(controlFrame{Command: command})
	return raw
}

func parseInbound(raw []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return inboundFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	switch f.Action {
	case ActionAccepted, ActionRejected, ActionEnded, ActionAudioStart, ActionAudioEnd:
		return f, nil
	case ActionDTMF:
		if f.Payload == nil || f.Payload.Digit == "" {
			return inboundFrame{}, fmt.Errorf("%w: dtmf without digit", ErrInvalidFrame)
		}
		return f, nil
	case "":
		return inboundFrame{}, fmt.Errorf("%w: missing action", ErrInvalidFrame)
	default:
		return inboundFrame{}, fmt.Errorf("%w: unknown action %q", ErrInvalidFrame, f.Action)
	}
}
