package process

import "syscall"

// fdPayload carries bytes for one stream. Done marks the end of the stream.
type fdPayload struct {
	B    []byte `json:",omitempty"`
	Done bool   `json:",omitempty"`
}

// fdConfig describes how the server should connect one of the process's streams.
type fdConfig struct {
	// Discard connects the stream to the null device instead of streaming it.
	Discard bool
	// Inherit marks a stream the client inherited from its own process. Like a local inherited stream,
	// the process is not waited on to consume it.
	Inherit bool `json:",omitempty"`
}

type procReq struct {
	Command []string
	// Env replaces the server's environment when non-nil.
	Env       map[string]string
	WD        string
	TimeoutMS int64
	// KillSignal is sent when the timeout expires, zero means SIGTERM.
	KillSignal syscall.Signal
	UID        *uint32
	GID        *uint32
	Shell      string

	Stdin  fdConfig
	Stdout fdConfig
	Stderr fdConfig
}

// procRequestMessage is a request message.
// Only the first message contains Req, subsequent messages contain stdin bytes or a signal.
type procRequestMessage struct {
	Req    *procReq `json:",omitempty"`
	Stdin  fdPayload
	Signal syscall.Signal `json:",omitempty"`
}

type procResult struct {
	// Kind mirrors subprocess.ResultKind.
	Kind   int
	Code   int
	Signal string
	TimeMS int64
}

// procResponseMessage is a response message.
// Only the last message of the stream will contain process exit information.
// Messages before the last may contain the PID, stdout or stderr bytes.
type procResponseMessage struct {
	PID    int `json:",omitempty"`
	Stdout fdPayload
	Stderr fdPayload

	// Exited is true if the process is done. Either Result or Err is set in that case.
	Exited bool
	Result *procResult `json:",omitempty"`
	Err    string      `json:",omitempty"`
}
