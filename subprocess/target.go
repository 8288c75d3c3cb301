package subprocess

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

type Kind int

const (
	// KindAbsent is the zero Target: nothing was requested, the slot is connected to the null device.
	KindAbsent Kind = iota
	// KindIgnore explicitly connects the slot to the null device.
	KindIgnore
	// KindInherit connects the slot to the parent's corresponding descriptor.
	KindInherit
	// KindFile hands an open file to the process, without a pipe.
	KindFile
	// KindBytes feeds a fixed byte sequence to stdin through a pipe.
	KindBytes
	// KindReader copies an in-process source into stdin through a pipe.
	KindReader
	// KindWriter copies stdout or stderr into an in-process sink through a pipe.
	KindWriter
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindIgnore:
		return "ignore"
	case KindInherit:
		return "inherit"
	case KindFile:
		return "file"
	case KindBytes:
		return "bytes"
	case KindReader:
		return "reader"
	case KindWriter:
		return "writer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Target describes what a standard stream of a process is connected to.
// The zero value is an absent target.
type Target struct {
	kind   Kind
	bytes  []byte
	file   *os.File
	reader io.Reader
	writer io.Writer
}

func Ignore() Target { return Target{kind: KindIgnore} }

func Inherit() Target { return Target{kind: KindInherit} }

// File passes f to the process directly. Valid for every slot, the caller keeps ownership of f.
func File(f *os.File) Target { return Target{kind: KindFile, file: f} }

// Bytes feeds b to stdin. Only valid for stdin.
func Bytes(b []byte) Target { return Target{kind: KindBytes, bytes: b} }

// Reader copies r into stdin until r returns io.EOF. Only valid for stdin.
// The process will not see the end of its input until r returns io.EOF or an error.
func Reader(r io.Reader) Target { return Target{kind: KindReader, reader: r} }

// Writer copies stdout or stderr into w. Only valid for stdout and stderr.
// If w is an io.Closer it is closed once the pipe has drained. If the copy fails instead,
// Close is not called; w is told about the failure through CloseWithError if it has that method.
func Writer(w io.Writer) Target { return Target{kind: KindWriter, writer: w} }

func (t Target) Kind() Kind { return t.kind }

func (t Target) String() string { return t.kind.String() }

// InputReader returns a reader for input targets backed by data (bytes, reader, file), or nil.
func (t Target) InputReader() io.Reader {
	switch t.kind {
	case KindBytes:
		return bytes.NewReader(t.bytes)
	case KindReader:
		return t.reader
	case KindFile:
		return t.file
	}
	return nil
}

// OutputWriter returns the writer for output targets backed by a writer or file, or nil.
func (t Target) OutputWriter() io.Writer {
	switch t.kind {
	case KindWriter:
		return t.writer
	case KindFile:
		return t.file
	}
	return nil
}

// piped reports whether the target needs a native pipe and a copy loop.
func (t Target) piped() bool {
	switch t.kind {
	case KindBytes, KindReader, KindWriter:
		return true
	}
	return false
}

func (t Target) validate(slot Slot) error {
	switch t.kind {
	case KindAbsent, KindIgnore, KindInherit:
		return nil
	case KindFile:
		if t.file == nil {
			return configErrorf("%s: nil file", slot)
		}
		return nil
	case KindBytes, KindReader:
		if slot != Stdin {
			return configErrorf("%s: %s target is input-only", slot, t.kind)
		}
		if t.kind == KindReader && t.reader == nil {
			return configErrorf("%s: nil reader", slot)
		}
		return nil
	case KindWriter:
		if slot == Stdin {
			return configErrorf("%s: %s target is output-only", slot, t.kind)
		}
		if t.writer == nil {
			return configErrorf("%s: nil writer", slot)
		}
		return nil
	default:
		return configErrorf("%s: unknown target %s", slot, t.kind)
	}
}
