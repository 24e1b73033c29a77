package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/chriscow/voiceloop-go/pkg/ai"
	"github.com/chriscow/voiceloop-go/pkg/session"
)

// Message is the wire format: a closed tagged union distinguished by Type.
// Anything that does not match a known variant is rejected at this boundary
// so unexpected shapes never reach pipeline logic.
type Message struct {
	Type string `json:"type"`

	// audio_input / audio_output
	Data       string `json:"data,omitempty"` // base64 PCM16LE
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Sequence   uint64 `json:"sequence,omitempty"`

	// control
	Action string `json:"action,omitempty"` // start | stop | set_mode | participants
	Mode   string `json:"mode,omitempty"`
	Count  int    `json:"count,omitempty"`

	// text
	Role string `json:"role,omitempty"` // transcript | response
	Text string `json:"text,omitempty"`

	// error (outbound only)
	Code string `json:"code,omitempty"`
}

const (
	TypeAudioInput  = "audio_input"
	TypeAudioOutput = "audio_output"
	TypeControl     = "control"
	TypeText        = "text"
	TypeError       = "error"
)

const (
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionSetMode      = "set_mode"
	ActionParticipants = "participants"
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ai.ErrMalformedInput, fmt.Sprintf(format, args...))
}

// parseInbound decodes and validates one client frame. The returned pcm is
// non-nil only for audio_input.
func parseInbound(raw []byte) (Message, []byte, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, nil, malformed("invalid json: %v", err)
	}

	switch msg.Type {
	case TypeAudioInput:
		if msg.SampleRate <= 0 {
			return msg, nil, malformed("audio_input with sample_rate %d", msg.SampleRate)
		}
		if msg.Channels <= 0 {
			return msg, nil, malformed("audio_input with %d channels", msg.Channels)
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return msg, nil, malformed("audio_input data is not base64: %v", err)
		}
		if len(pcm) == 0 {
			return msg, nil, malformed("audio_input with empty data")
		}
		return msg, pcm, nil

	case TypeControl:
		switch msg.Action {
		case ActionStart, ActionStop:
		case ActionSetMode:
			if _, err := session.ParseMode(msg.Mode); err != nil {
				return msg, nil, malformed("set_mode: %v", err)
			}
		case ActionParticipants:
			if msg.Count < 0 {
				return msg, nil, malformed("participants count %d", msg.Count)
			}
		default:
			return msg, nil, malformed("unknown control action %q", msg.Action)
		}
		return msg, nil, nil

	default:
		return msg, nil, malformed("unknown message type %q", msg.Type)
	}
}

func audioOutputMessage(pcm []byte, sampleRate, channels int) Message {
	return Message{
		Type:       TypeAudioOutput,
		Data:       base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

func textMessage(role, text string) Message {
	return Message{Type: TypeText, Role: role, Text: text}
}

func errorMessage(code, text string) Message {
	return Message{Type: TypeError, Code: code, Text: text}
}
