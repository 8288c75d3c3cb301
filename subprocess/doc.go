/*
Package subprocess starts external processes and pipes their standard streams to and from in-process sources and sinks.

Each of stdin, stdout and stderr is described by a Target. Targets that point at the parent's own descriptors
(Inherit), at a file (File) or at nothing (Ignore, or the zero Target) are handed straight to the child.
Targets backed by in-process streams (Bytes, Reader, Writer) get a native pipe and a copy loop, and every copy loop
settles its own completion exactly once, successfully or with an error.

Wait returns the exit status only after the process has exited AND every copy loop has settled.
A process may exit while its output is still in flight in a pipe; waiting for the pipes first means
captured output is never truncated.

Failures are reported through Wait:

  - ErrConfiguration: invalid targets or command, returned synchronously by Start before anything is spawned.
  - *SpawnError: the OS could not create the process.
  - *PipeError: a native pipe failed, e.g. the process exited before consuming its stdin.
  - *SinkError / *SourceError: the in-process side of a copy loop failed, e.g. a sink.Buffer overflowed.

The only way a process is stopped by this package is the optional Timeout, which signals the process;
a process stopped that way reports the signal name in its Result rather than an error.
Copy loops are never cancelled, so Wait keeps waiting for them even after the timeout fires.

This package relies on Unix process semantics.
*/
package subprocess
