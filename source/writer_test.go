package source

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestWriterReadAll(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteBuffer([]byte("foo")))
	require.NoError(t, w.WriteLine("bar"))
	_, err := w.Write([]byte("baz"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := io.ReadAll(w)
	require.NoError(t, err)
	assert.Equal(t, "foobar\nbaz", string(b))
}

func TestWriterBlocksUntilPushed(t *testing.T) {
	w := NewWriter(WithSeparator("\r\n"))
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = w.WriteLine("late")
		_ = w.Close()
	}()
	b, err := io.ReadAll(w)
	require.NoError(t, err)
	assert.Equal(t, "late\r\n", string(b))
}

func TestWriterShortReads(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteBuffer([]byte("abcde")))
	p := make([]byte, 2)

	n, err := w.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(p[:n]))

	n, err = w.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "cd", string(p[:n]))

	n, err = w.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "e", string(p[:n]))
}

func TestWriterClosed(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteBuffer([]byte("x")), ErrClosed)
	_, err := w.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriterCloseWithError(t *testing.T) {
	boom := errors.New("boom")
	w := NewWriter()
	require.NoError(t, w.WriteBuffer([]byte("x")))
	require.NoError(t, w.CloseWithError(boom))

	b, err := io.ReadAll(w)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "x", string(b))
}

func TestWriterEncoding(t *testing.T) {
	w := NewWriter(WithEncoding(charmap.ISO8859_1))
	require.NoError(t, w.WriteLine("café"))
	require.NoError(t, w.Close())
	b, err := io.ReadAll(w)
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9, '\n'}, b)
}
