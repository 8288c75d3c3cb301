package subprocess

import (
	"errors"
	"io"
	"os"

	"github.com/guseggert/procpipe/future"
)

const copyBufSize = 32 * 1024

type errorCloser interface {
	CloseWithError(err error) error
}

// copyIn copies src into the stdin pipe. The pipe is closed on every path so the process always sees end of input.
func (s *Subprocess) copyIn(pipe *os.File, src io.Reader, done *future.Future[struct{}]) {
	log := s.log.Named("stdin_copier")
	err := func() error {
		buf := make([]byte, copyBufSize)
		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				if _, werr := pipe.Write(buf[:n]); werr != nil {
					return &PipeError{Slot: Stdin, Op: "write", Err: werr}
				}
			}
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			if rerr != nil {
				return &SourceError{Slot: Stdin, Err: rerr}
			}
		}
	}()
	closeErr := pipe.Close()
	if err == nil && closeErr != nil {
		err = &PipeError{Slot: Stdin, Op: "close", Err: closeErr}
	}
	if err != nil {
		log.Debugw("stdin copy failed", "Error", err)
		_ = done.Reject(err)
		return
	}
	log.Debug("stdin drained")
	_ = done.Resolve(struct{}{})
}

// copyOut copies a stdout or stderr pipe into dst until end of stream, then closes dst.
// The read end is closed on every path, so a process writing to a failed sink gets EPIPE instead of blocking.
func (s *Subprocess) copyOut(slot Slot, pipe *os.File, dst io.Writer, done *future.Future[struct{}]) {
	log := s.log.Named(slot.String() + "_copier")
	err := func() error {
		defer pipe.Close()
		buf := make([]byte, copyBufSize)
		for {
			n, rerr := pipe.Read(buf)
			if n > 0 {
				wn, werr := dst.Write(buf[:n])
				if werr != nil {
					return &SinkError{Slot: slot, Op: "write", Err: werr}
				}
				if wn != n {
					return &SinkError{Slot: slot, Op: "write", Err: io.ErrShortWrite}
				}
			}
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			if rerr != nil {
				return &PipeError{Slot: slot, Op: "read", Err: rerr}
			}
		}
	}()
	if err == nil {
		if closer, ok := dst.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				err = &SinkError{Slot: slot, Op: "close", Err: cerr}
			}
		}
	} else if ec, ok := dst.(errorCloser); ok {
		_ = ec.CloseWithError(err)
	}
	if err != nil {
		log.Debugw("copy failed", "Error", err)
		_ = done.Reject(err)
		return
	}
	log.Debug("pipe drained")
	_ = done.Resolve(struct{}{})
}
