package spjs

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Port is a serial port opened through a Client. Data written is sent as is;
// data received from the device is read back line by line.
type Port struct {
	c    *Client
	name string
	baud int

	mx     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

var _ io.ReadWriteCloser = (*Port)(nil)

func newPort(c *Client, name string, baud int) *Port {
	p := &Port{c: c, name: name, baud: baud}
	p.cond = sync.NewCond(&p.mx)
	return p
}

func (p *Port) openCmd() string {
	return "open " + p.name + " " + strconv.Itoa(p.baud)
}

// Name returns the server-side port name.
func (p *Port) Name() string { return p.name }

// deliver queues a frame from the server. Frames carry whole lines; a
// missing newline is added.
func (p *Port) deliver(data string) {
	if !strings.HasSuffix(data, "\n") {
		data += "\n"
	}
	p.mx.Lock()
	p.buf.WriteString(data)
	p.cond.Broadcast()
	p.mx.Unlock()
}

func (p *Port) Read(b []byte) (int, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.buf.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	p.mx.Lock()
	closed := p.closed
	p.mx.Unlock()
	if closed {
		return 0, ErrClosed
	}

	err := p.c.SendJSON(JSON{
		Port: p.name,
		Data: []Data{{Data: string(b), ID: nextID()}},
	})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Port) shutdown() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	p.cond.Broadcast()
	return true
}

// Close closes the port on the server.
func (p *Port) Close() error {
	if !p.shutdown() {
		return nil
	}
	p.c.release(p)
	err := p.c.WriteString("close " + p.name)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
