package core

import "errors"

const (
	// listenBacklog is the accept queue length passed to listen(2).
	listenBacklog = 1024
	// bigWrite keeps a level-triggered write looping while more remains.
	bigWrite = 10240
	// busyMessage is sent to clients refused at the connection limit.
	busyMessage = "Server busy!\n"

	// Trigger modes: which of listener and connections are edge-triggered.
	TrigLevel      = 0
	TrigConnEdge   = 1
	TrigListenEdge = 2
	TrigBothEdge   = 3
)

// Error definitions
var (
	ErrInvalidPort  = errors.New("core: port must be 0 or in 1024..65535")
	ErrNotListening = errors.New("core: engine is not listening")
	ErrEngineClosed = errors.New("core: engine is shut down")
)
