package process

import (
	"fmt"
	"io"
	"os"

	"github.com/guseggert/procpipe/source"
	"go.uber.org/zap"
)

// inheritedPipe stands in for a client's own stdin. The process gets the read end as a plain file,
// so its exit does not wait for the client to reach EOF, the same as a locally inherited stdin.
type inheritedPipe struct {
	child  *os.File
	parent *os.File
	done   chan struct{}
}

func newInheritedPipe() (*inheritedPipe, error) {
	child, parent, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	return &inheritedPipe{child: child, parent: parent, done: make(chan struct{})}, nil
}

// feed copies src into the pipe in the background. The child end is closed here since the process holds its own copy.
func (p *inheritedPipe) feed(log *zap.SugaredLogger, src io.Reader) {
	if p == nil {
		return
	}
	if err := p.child.Close(); err != nil {
		log.Debugf("error closing child end of stdin pipe: %s", err)
	}
	go func() {
		defer close(p.done)
		defer p.parent.Close()
		_, err := io.Copy(p.parent, src)
		log.Debugw("done feeding inherited stdin", "Error", err)
	}()
}

// stop ends the feeder once the process has exited. Stdin the process never read is dropped.
func (p *inheritedPipe) stop(src *source.Writer) {
	if p == nil {
		return
	}
	_ = src.CloseWithError(nil)
	// unblocks a write into a pipe something else still holds open
	p.parent.Close()
	<-p.done
}

// abort releases both ends when the process was never started.
func (p *inheritedPipe) abort() {
	if p == nil {
		return
	}
	p.child.Close()
	p.parent.Close()
}
