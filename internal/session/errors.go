package session

import "errors"

var (
	ErrInvalidTransition   = errors.New("invalid call state transition")
	ErrNotConnected        = errors.New("call is not connected")
	ErrSessionClosed       = errors.New("session closed")
	ErrAnalysisUnreachable = errors.New("analysis unreachable")
	ErrFinalChunkTimeout   = errors.New("final audio chunk not observed before timeout")

	// ErrDuplicateAnalysis is returned when End runs again on a call whose
	// recording was already handed off.
	ErrDuplicateAnalysis = errors.New("call already handed off for analysis")
)
