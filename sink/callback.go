package sink

import "sync"

// Callback is a sink that hands every chunk to OnData and calls OnClose once when closed.
// Either callback may be nil, in which case the corresponding operation is a no-op.
// An error returned from a callback fails the Write or Close that invoked it.
//
// The chunk passed to OnData is only valid for the duration of the call.
type Callback struct {
	OnData  func(b []byte) error
	OnClose func() error

	closeOnce sync.Once
}

func (c *Callback) Write(b []byte) (int, error) {
	if c.OnData == nil {
		return len(b), nil
	}
	if err := c.OnData(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *Callback) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.OnClose != nil {
			err = c.OnClose()
		}
	})
	return err
}
