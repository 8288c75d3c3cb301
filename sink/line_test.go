package sink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

type lineRecorder struct {
	events []string
}

func (r *lineRecorder) onLine(line string) error {
	r.events = append(r.events, "line:"+line)
	return nil
}

func (r *lineRecorder) onClose() error {
	r.events = append(r.events, "close")
	return nil
}

func TestLineCallback(t *testing.T) {
	cases := []struct {
		name      string
		separator string
		writes    []string
		expEvents []string
	}{
		{
			name:      "partial lines across chunks",
			writes:    []string{"ab", "c\nde"},
			expEvents: []string{"line:abc", "line:de", "close"},
		},
		{
			name:      "trailing separator leaves nothing to flush",
			writes:    []string{"a\nb\n"},
			expEvents: []string{"line:a", "line:b", "close"},
		},
		{
			name:      "empty lines are delivered",
			writes:    []string{"\n\nx"},
			expEvents: []string{"line:", "line:", "line:x", "close"},
		},
		{
			name:      "no input",
			expEvents: []string{"close"},
		},
		{
			name:      "multi-byte separator split across chunks",
			separator: "\r\n",
			writes:    []string{"one\r", "\ntwo\r\nthree"},
			expEvents: []string{"line:one", "line:two", "line:three", "close"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := &lineRecorder{}
			l := NewLineCallback(rec.onLine, rec.onClose, WithSeparator(c.separator))
			for _, w := range c.writes {
				n, err := l.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			require.NoError(t, l.Close())
			assert.Equal(t, c.expEvents, rec.events)
		})
	}
}

func TestLineCallbackPendingHoldsTail(t *testing.T) {
	rec := &lineRecorder{}
	l := NewLineCallback(rec.onLine, nil)
	_, err := l.Write([]byte("a\nbc"))
	require.NoError(t, err)
	assert.Equal(t, "bc", string(l.pending))
	_, err = l.Write([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, l.pending)
	assert.Equal(t, []string{"line:a", "line:bc"}, rec.events)
}

func TestLineCallbackHandlerError(t *testing.T) {
	boom := errors.New("boom")
	var lines []string
	l := NewLineCallback(func(line string) error {
		if line == "bad" {
			return boom
		}
		lines = append(lines, line)
		return nil
	}, nil)

	_, err := l.Write([]byte("ok\nbad\nlater"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"ok"}, lines)

	closeErr := errors.New("close failed")
	l2 := NewLineCallback(func(string) error { return nil }, func() error { return closeErr })
	assert.ErrorIs(t, l2.Close(), closeErr)
}

func TestLineCallbackWriteAfterClose(t *testing.T) {
	l := NewLineCallback(func(string) error { return nil }, nil)
	require.NoError(t, l.Close())
	_, err := l.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLineCallbackEncoding(t *testing.T) {
	t.Run("latin1", func(t *testing.T) {
		rec := &lineRecorder{}
		l := NewLineCallback(rec.onLine, nil, WithEncoding(charmap.ISO8859_1))
		_, err := l.Write([]byte{'c', 'a', 'f', 0xe9, '\n'})
		require.NoError(t, err)
		require.NoError(t, l.Close())
		assert.Equal(t, []string{"line:café"}, rec.events)
	})
	t.Run("utf-16 code units split across writes", func(t *testing.T) {
		rec := &lineRecorder{}
		enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
		l := NewLineCallback(rec.onLine, nil, WithEncoding(enc))
		// "hi\nyo" in UTF-16LE, split in the middle of a code unit
		raw := []byte{'h', 0, 'i', 0, '\n', 0, 'y', 0, 'o', 0}
		_, err := l.Write(raw[:3])
		require.NoError(t, err)
		_, err = l.Write(raw[3:])
		require.NoError(t, err)
		require.NoError(t, l.Close())
		assert.Equal(t, []string{"line:hi", "line:yo"}, rec.events)
	})
}

func TestLineCallbackNilHandlers(t *testing.T) {
	l := NewLineCallback(nil, nil)
	n, err := l.Write([]byte("a\nb\nc"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, l.Close())
}
