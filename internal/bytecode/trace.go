package bytecode

import "github.com/rs/zerolog"

// trace is the codec's debug channel. It is a no-op unless the front end
// installs its logger; failures still surface as errors, never as log
// lines.
var trace = zerolog.Nop()

// SetTraceLogger installs the logger the writer and loader trace against.
func SetTraceLogger(logger zerolog.Logger) {
	trace = logger
}
