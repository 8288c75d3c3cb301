/*
Package sink provides byte sinks that can be attached to the stdout and stderr of a subprocess.

Every sink is an io.WriteCloser. Write accepts or fails a single chunk and Close is the terminal
"no more writes" notification. A sink is written by exactly one producer, so none of the sinks here
support concurrent writers, although the read-side methods (Bytes, ReadLine, Wait) may be called
from other goroutines.

Sinks that also implement CloseWithError are told why their producer stopped when it stopped because of a failure,
so that goroutines blocked on them are released instead of waiting for a Close that never comes.
*/
package sink

import "errors"

// ErrClosed is returned when writing to a sink that has been closed.
var ErrClosed = errors.New("write to closed sink")
