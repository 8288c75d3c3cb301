package process

import (
	"context"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

// sendChunked sends b as one or more JSON messages built by writeMsg, breaking it into chunks based on max message size.
// The write limit is probably over-conservative, we are estimating the final encoded JSON size.
func sendChunked(ctx context.Context, conn *websocket.Conn, b []byte, writeMsg func(b []byte) any) error {
	writeLimit := readLimit / 3
	for len(b) > 0 {
		toWrite := b
		if len(toWrite) > writeLimit {
			toWrite = toWrite[:writeLimit]
		}
		b = b[len(toWrite):]
		if err := wsjson.Write(ctx, conn, writeMsg(toWrite)); err != nil {
			return err
		}
	}
	return nil
}

type wsJSONWriter struct {
	log  *zap.SugaredLogger
	ctx  context.Context
	conn *websocket.Conn

	// writeMsg is called with the bytes passed to write, and the return value is JSON-encoded and sent as an outgoing WebSocket message.
	writeMsg func(b []byte) any
	// closeMsg is called when the writer is closed, and the return value is JSON-encoded and sent as an outgoing WebSocket message.
	closeMsg func() any
}

func (w *wsJSONWriter) Write(b []byte) (int, error) {
	w.log.Debugf("writing %d bytes", len(b))
	if err := sendChunked(w.ctx, w.conn, b, w.writeMsg); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (w *wsJSONWriter) Close() error {
	var err error
	sendClose := w.closeMsg != nil
	if sendClose {
		err = wsjson.Write(w.ctx, w.conn, w.closeMsg())
	}
	w.log.Debugw("closed writer", "Error", err, "SentClose", sendClose)
	return err
}
