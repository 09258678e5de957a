package script

import (
	"github.com/rs/zerolog"

	"rubin.dev/node/chain"
)

// ZerologDebugSink implements syscall.DebugSink by emitting each guest
// Debug() string as a structured log event, tagged with the emitting
// script's role — the supplemented per-syscall trace hook of SPEC_FULL.md
// §5. The logger is supplied by the caller.
type ZerologDebugSink struct {
	Log zerolog.Logger
}

func NewZerologDebugSink(log zerolog.Logger) *ZerologDebugSink {
	return &ZerologDebugSink{Log: log}
}

func (s *ZerologDebugSink) Debug(role chain.Role, msg string) {
	s.Log.Debug().
		Str("role_kind", role.Kind).
		Int("role_index", role.Index).
		Str("role_script", role.Script).
		Str("vm_debug", msg).
		Msg("script debug")
}
