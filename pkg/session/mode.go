package session

import "fmt"

// Mode selects how capture relates to playback. DIRECT capture is isolated
// from synthesized output; SHARED capture hears it back, so echo prevention
// is engaged. AUTO picks between them from the participant count.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeDirect Mode = "direct"
	ModeShared Mode = "shared"
)

// ParseMode validates a wire or config mode value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeDirect, ModeShared:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// desiredMode maps a participant count onto a capture mode. Zero remote
// participants means the session's own audio path is the only one on the
// channel, so capture is echo-free.
func desiredMode(participants int) Mode {
	if participants <= 0 {
		return ModeDirect
	}
	return ModeShared
}
