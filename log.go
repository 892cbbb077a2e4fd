package groupcast

import "go.uber.org/zap"

// nopLogger is the default, silent logger installed on every Dispatcher
// until a caller opts in with WithLogger, so the library produces no output
// by surprise (chirp itself never logs at all; we adopt any-sync's zap
// convention for the warnings spec §7 requires but make silence the
// default).
var nopLogger = zap.NewNop()
