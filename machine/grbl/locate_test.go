package grbl

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/wellcnc/logger"
	"github.com/mastercactapus/wellcnc/machine"
	"github.com/mastercactapus/wellcnc/machine/grbl/grblsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentPort accepts writes and never answers.
type silentPort struct {
	once   sync.Once
	closed chan struct{}
}

func newSilentPort() *silentPort { return &silentPort{closed: make(chan struct{})} }

func (p *silentPort) Read([]byte) (int, error) {
	<-p.closed
	return 0, io.ErrClosedPipe
}
func (p *silentPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *silentPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// eofPort reports EOF without blocking and counts reads.
type eofPort struct {
	mx    sync.Mutex
	reads int
}

func (p *eofPort) Read([]byte) (int, error) {
	p.mx.Lock()
	p.reads++
	p.mx.Unlock()
	return 0, io.EOF
}
func (p *eofPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *eofPort) Close() error                { return nil }

func (p *eofPort) Reads() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.reads
}

type trackedPort struct {
	io.ReadWriteCloser
	onClose func()
}

func (p trackedPort) Close() error {
	p.onClose()
	return p.ReadWriteCloser.Close()
}

type portTracker struct {
	mx     sync.Mutex
	opened []string
	closed []string
}

func (pt *portTracker) locator(names []string, ports map[string]io.ReadWriteCloser) *Locator {
	return &Locator{
		BaudRate:     115200,
		ProbeTimeout: 100 * time.Millisecond,
		List:         func() ([]string, error) { return names, nil },
		Open: func(name string, _ int) (io.ReadWriteCloser, error) {
			p, ok := ports[name]
			if !ok {
				return nil, errors.New("no such device")
			}
			pt.mx.Lock()
			pt.opened = append(pt.opened, name)
			pt.mx.Unlock()
			return trackedPort{ReadWriteCloser: p, onClose: func() {
				pt.mx.Lock()
				pt.closed = append(pt.closed, name)
				pt.mx.Unlock()
			}}, nil
		},
		Log: logger.GetLogger(),
	}
}

func TestLocator_SinglePort(t *testing.T) {
	var pt portTracker
	l := pt.locator([]string{"/dev/ttyACM0"}, nil)

	name, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", name)
	assert.Empty(t, pt.opened, "single port must not be opened")
}

func TestLocator_Probe(t *testing.T) {
	var pt portTracker
	l := pt.locator([]string{"a", "b", "c"}, map[string]io.ReadWriteCloser{
		"a": newSilentPort(),
		"b": grblsim.New(grblsim.Options{}),
		"c": newSilentPort(),
	})

	name, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", name)
	assert.Equal(t, []string{"a", "b"}, pt.opened)
	assert.Equal(t, []string{"a", "b"}, pt.closed)
}

func TestLocator_NotFound(t *testing.T) {
	var pt portTracker
	l := pt.locator(nil, nil)
	_, err := l.Locate(context.Background())
	assert.ErrorIs(t, err, machine.ErrNoPortFound)

	l = pt.locator([]string{"a", "missing", "c"}, map[string]io.ReadWriteCloser{
		"a": newSilentPort(),
		"c": newSilentPort(),
	})
	_, err = l.Locate(context.Background())
	assert.ErrorIs(t, err, machine.ErrNoPortFound)
	assert.Equal(t, pt.opened, pt.closed)

	l.List = func() ([]string, error) { return nil, errors.New("permission denied") }
	_, err = l.Locate(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}

func TestLocator_EOFPort(t *testing.T) {
	var pt portTracker
	eof := &eofPort{}
	l := pt.locator([]string{"a", "b"}, map[string]io.ReadWriteCloser{
		"a": eof,
		"b": newSilentPort(),
	})

	_, err := l.Locate(context.Background())
	assert.ErrorIs(t, err, machine.ErrNoPortFound)
	assert.Less(t, eof.Reads(), 100, "reads are paced")

	time.Sleep(50 * time.Millisecond)
	n := eof.Reads()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, eof.Reads(), "reader stops once probing is over")
}
