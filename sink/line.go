package sink

import (
	"bytes"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const defaultSeparator = "\n"

type lineConfig struct {
	separator string
	encoding  encoding.Encoding
}

type LineOption func(c *lineConfig)

// WithSeparator sets the line separator. The default is "\n"; an empty separator keeps the default.
func WithSeparator(sep string) LineOption {
	return func(c *lineConfig) {
		if sep != "" {
			c.separator = sep
		}
	}
}

// WithEncoding decodes incoming bytes from enc into UTF-8 before splitting.
// Multi-byte sequences split across writes are carried over to the next write.
func WithEncoding(enc encoding.Encoding) LineOption {
	return func(c *lineConfig) {
		c.encoding = enc
	}
}

// LineCallback is a sink that splits its input into lines and calls onLine for each complete one, in order.
// On Close, a trailing partial line (input not ending in the separator) is delivered as a final line before onClose runs.
// Errors returned by the callbacks abort the Write or Close in progress and are returned from it.
type LineCallback struct {
	onLine  func(line string) error
	onClose func() error

	sep []byte
	// in is where Write sends bytes: the splitter itself, or a decoder in front of it.
	in      io.Writer
	decoder *transform.Writer

	pending []byte
	closed  bool
}

// NewLineCallback builds a line-splitting sink. Nil handlers are no-ops, like Callback's.
func NewLineCallback(onLine func(line string) error, onClose func() error, opts ...LineOption) *LineCallback {
	if onLine == nil {
		onLine = func(string) error { return nil }
	}
	cfg := lineConfig{separator: defaultSeparator}
	for _, o := range opts {
		o(&cfg)
	}
	l := &LineCallback{
		onLine:  onLine,
		onClose: onClose,
		sep:     []byte(cfg.separator),
	}
	l.in = splitWriter{l}
	if cfg.encoding != nil {
		l.decoder = transform.NewWriter(splitWriter{l}, cfg.encoding.NewDecoder())
		l.in = l.decoder
	}
	return l
}

func (l *LineCallback) Write(b []byte) (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	return l.in.Write(b)
}

func (l *LineCallback) Close() error {
	if l.closed {
		return nil
	}
	if l.decoder != nil {
		if err := l.decoder.Close(); err != nil {
			return err
		}
	}
	l.closed = true
	if len(l.pending) > 0 {
		line := string(l.pending)
		l.pending = nil
		if err := l.onLine(line); err != nil {
			return err
		}
	}
	if l.onClose != nil {
		return l.onClose()
	}
	return nil
}

// split appends decoded bytes to the pending tail and emits every complete line.
func (l *LineCallback) split(b []byte) (int, error) {
	l.pending = append(l.pending, b...)
	consumed := 0
	for {
		i := bytes.Index(l.pending[consumed:], l.sep)
		if i < 0 {
			break
		}
		line := string(l.pending[consumed : consumed+i])
		consumed += i + len(l.sep)
		if err := l.onLine(line); err != nil {
			l.pending = append([]byte(nil), l.pending[consumed:]...)
			return len(b), err
		}
	}
	if consumed > 0 {
		l.pending = append([]byte(nil), l.pending[consumed:]...)
	}
	return len(b), nil
}

type splitWriter struct{ l *LineCallback }

func (w splitWriter) Write(b []byte) (int, error) { return w.l.split(b) }
