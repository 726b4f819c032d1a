package grbl

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/wellcnc/logger"
	"github.com/mastercactapus/wellcnc/machine"
)

const (
	cmdStatus    = '?'
	cmdSoftReset = 0x18

	wakeSequence = "\r\n\r\n"

	closeTimeout = time.Second
)

// Conn represents a direct connection to a Grbl controller.
//
// A single reader goroutine splits the incoming stream into lines and routes
// them. Callers must not use a Conn from more than one goroutine at a time,
// apart from Close.
type Conn struct {
	rw  io.ReadWriteCloser
	cfg machine.Config
	log logger.Logger

	wMx sync.Mutex

	statusCh chan string
	ackCh    chan string
	alarmCh  chan string
	resetCh  chan struct{}
	stateCh  chan machine.State

	mx       sync.Mutex
	pending  int
	lastLine string

	closeOnce sync.Once
	closeCh   chan struct{}
	closeErr  error

	doneCh  chan struct{}
	readErr error
}

var _ machine.Adapter = (*Conn)(nil)

// NewConn creates a new Conn using the provided ReadWriteCloser for data and
// starts reading from it. No wake sequence is sent; see Wake.
func NewConn(rw io.ReadWriteCloser, cfg machine.Config) *Conn {
	c := &Conn{
		rw:  rw,
		cfg: cfg.WithDefaults(),
		log: logger.With("component", "grbl"),

		statusCh: make(chan string, 8),
		ackCh:    make(chan string, 64),
		alarmCh:  make(chan string, 4),
		resetCh:  make(chan struct{}, 1),
		stateCh:  make(chan machine.State, 16),

		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial opens the serial device name, wakes the controller and waits for it
// to answer a status query.
func Dial(ctx context.Context, name string, cfg machine.Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	rw, err := openPort(name, cfg.BaudRate)
	if err != nil {
		return nil, &machine.ConnectionError{Port: name, Err: err}
	}
	return DialStream(ctx, name, rw, cfg)
}

// DialStream is like Dial for an already open stream, such as a port opened
// through a serial bridge. The stream is closed if the controller does not
// answer.
func DialStream(ctx context.Context, name string, rw io.ReadWriteCloser, cfg machine.Config) (*Conn, error) {
	c := NewConn(rw, cfg)
	c.log = c.log.With("port", name)
	if err := c.Wake(ctx); err != nil {
		c.Close()
		return nil, &machine.ConnectionError{Port: name, Err: err}
	}
	return c, nil
}

// Dialer returns a machine.Dialer for the serial device name.
func Dialer(name string) machine.Dialer {
	return func(ctx context.Context, cfg machine.Config) (machine.Adapter, error) {
		return Dial(ctx, name, cfg)
	}
}

var openPort = OpenSerial

func (c *Conn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Conn) readLoop() {
	defer close(c.doneCh)
	defer close(c.stateCh)

	br := bufio.NewReader(c.rw)
	var partial string
	for {
		s, err := br.ReadString('\n')
		partial += s
		if err == nil {
			c.route(strings.TrimRight(partial, "\r\n"))
			partial = ""
			continue
		}
		if c.closed() {
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrNoProgress) {
			// read timeout, keep any partial line
			if s == "" {
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}
		c.readErr = err
		c.log.Error("read failed", "error", err)
		return
	}
}

func sendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		// drop the oldest value
		select {
		case <-ch:
		default:
		}
	}
}

func (c *Conn) pushAck(code string) {
	select {
	case c.ackCh <- code:
	case <-c.closeCh:
	}
}

func (c *Conn) route(line string) {
	switch {
	case line == "":
	case strings.HasPrefix(line, "<"):
		sendLatest(c.statusCh, line)
		if s, err := ParseStatus(line); err == nil {
			sendLatest(c.stateCh, *s)
		}
	case line == "ok":
		c.pushAck("")
	case strings.HasPrefix(line, "error:"):
		c.log.Debug("command error", "reply", line)
		c.pushAck(strings.TrimPrefix(line, "error:"))
	case strings.HasPrefix(line, "ALARM:"):
		c.log.Warn("controller alarm", "reply", line)
		sendLatest(c.alarmCh, strings.TrimPrefix(line, "ALARM:"))
	case strings.HasPrefix(line, "Grbl "):
		c.log.Info("controller reset", "banner", line)
		sendLatest(c.resetCh, struct{}{})
	default:
		c.log.Debug("unhandled message", "line", line)
	}
}

// readFailed returns the error to report once the reader has stopped.
func (c *Conn) readFailed() error {
	<-c.doneCh
	if c.readErr == nil {
		return &machine.TransportError{Op: "read", Err: machine.ErrClosed}
	}
	return &machine.TransportError{Op: "read", Err: c.readErr}
}

func (c *Conn) write(p []byte) error {
	if c.closed() {
		return &machine.TransportError{Op: "write", Err: machine.ErrClosed}
	}
	c.wMx.Lock()
	_, err := c.rw.Write(p)
	c.wMx.Unlock()
	if err != nil {
		return &machine.TransportError{Op: "write", Err: err}
	}
	return nil
}

// WriteByte will write directly to the serial device without
// accounting for buffering.
//
// Use for realtime commands like `?`.
func (c *Conn) WriteByte(p byte) error {
	return c.write([]byte{p})
}

// SendLine writes a single line. The line counts as pending until the
// controller acknowledges it.
func (c *Conn) SendLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.log.Debug("send", "line", line)
	if err := c.write([]byte(line + "\n")); err != nil {
		return err
	}
	c.mx.Lock()
	c.pending++
	c.lastLine = line
	c.mx.Unlock()
	return nil
}

// Pending returns the number of lines sent but not yet acknowledged.
func (c *Conn) Pending() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.pending
}

func (c *Conn) ack(code string) error {
	c.mx.Lock()
	if c.pending > 0 {
		c.pending--
	}
	line := c.lastLine
	c.mx.Unlock()
	if code == "" {
		return nil
	}
	return &machine.CommandError{Line: line, Code: code}
}

// takeAcks consumes acks that have already arrived.
func (c *Conn) takeAcks() error {
	for {
		select {
		case code := <-c.ackCh:
			if err := c.ack(code); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// alarmed returns an AlarmError for state, picking up the alarm code if one
// was reported. The controller drops queued lines on alarm.
func (c *Conn) alarmed(state, code string) error {
	if code == "" {
		select {
		case code = <-c.alarmCh:
		default:
		}
	}
	c.mx.Lock()
	c.pending = 0
	c.mx.Unlock()
	return &machine.AlarmError{Code: code, State: state}
}

func (c *Conn) takeAlarm() error {
	select {
	case code := <-c.alarmCh:
		return c.alarmed(machine.StatusAlarm, code)
	default:
		return nil
	}
}

// waitAcks blocks until all pending lines are acknowledged.
func (c *Conn) waitAcks(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	t := time.NewTimer(timeout)
	defer t.Stop()
	for c.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.doneCh:
			return c.readFailed()
		case code := <-c.alarmCh:
			return c.alarmed(machine.StatusAlarm, code)
		case <-t.C:
			return &machine.UnresponsiveError{Elapsed: time.Since(start)}
		case code := <-c.ackCh:
			if err := c.ack(code); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Conn) drainStatus() {
	for {
		select {
		case <-c.statusCh:
		default:
			return
		}
	}
}

// Status sends a status query and waits for a single report. A missing or
// unparsable report returns (nil, nil).
func (c *Conn) Status(ctx context.Context) (*machine.State, error) {
	c.drainStatus()
	if err := c.WriteByte(cmdStatus); err != nil {
		return nil, err
	}

	t := time.NewTimer(c.cfg.StatusTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.doneCh:
		return nil, c.readFailed()
	case <-t.C:
		c.log.Debug("status timeout")
		return nil, nil
	case frame := <-c.statusCh:
		s, err := ParseStatus(frame)
		if err != nil {
			c.log.Debug("unparsable status", "frame", frame, "error", err)
			return nil, nil
		}
		return s, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitForIdle polls the controller until the last sent line has been
// acknowledged and IdleConfirmations consecutive reports are Idle.
//
// It fails with a *machine.CommandError if the line was rejected, a
// *machine.AlarmError on alarm, and a *machine.UnresponsiveError if
// IdleTimeout elapses first.
func (c *Conn) WaitForIdle(ctx context.Context) error {
	start := time.Now()
	var deadline <-chan time.Time
	if c.cfg.IdleTimeout > 0 {
		t := time.NewTimer(c.cfg.IdleTimeout)
		defer t.Stop()
		deadline = t.C
	}

	if err := sleep(ctx, c.cfg.SettleDelay); err != nil {
		return err
	}

	var last *machine.State
	var idle int
	for {
		if err := c.takeAcks(); err != nil {
			return err
		}
		if err := c.takeAlarm(); err != nil {
			return err
		}

		s, err := c.Status(ctx)
		if err != nil {
			return err
		}
		switch {
		case s == nil:
			idle = 0
		case s.Alarm():
			return c.alarmed(s.Status, "")
		case s.Idle() && c.Pending() == 0:
			idle++
		default:
			idle = 0
		}
		if s != nil {
			last = s
		}
		if idle >= c.cfg.IdleConfirmations {
			return nil
		}

		t := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-deadline:
			t.Stop()
			return &machine.UnresponsiveError{Elapsed: time.Since(start), LastState: last}
		case <-t.C:
		}
	}
}

// Command sends a system command like `$X` and waits for it to be acknowledged.
func (c *Conn) Command(ctx context.Context, cmd string) error {
	if err := c.takeAcks(); err != nil {
		c.log.Debug("stale error", "error", err)
	}
	if err := c.takeAlarm(); err != nil {
		c.log.Debug("stale alarm", "error", err)
	}
	if err := c.SendLine(ctx, cmd); err != nil {
		return err
	}
	return c.waitAcks(ctx, c.cfg.AckTimeout)
}

func (c *Conn) discard() {
	for {
		select {
		case <-c.ackCh:
		case <-c.alarmCh:
		case <-c.statusCh:
		default:
			c.mx.Lock()
			c.pending = 0
			c.mx.Unlock()
			return
		}
	}
}

// Reset sends a soft reset and waits for the startup banner.
func (c *Conn) Reset(ctx context.Context) error {
	select {
	case <-c.resetCh:
	default:
	}
	if err := c.WriteByte(cmdSoftReset); err != nil {
		return err
	}

	start := time.Now()
	t := time.NewTimer(c.cfg.ConnectTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return c.readFailed()
	case <-t.C:
		return &machine.UnresponsiveError{Elapsed: time.Since(start)}
	case <-c.resetCh:
	}
	c.discard()
	return nil
}

// Wake sends the wake sequence, waits for the banner or WakeDelay, discards
// anything received so far and then polls until the controller answers a
// status query or ConnectTimeout elapses.
func (c *Conn) Wake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.write([]byte(wakeSequence)); err != nil {
		return err
	}

	t := time.NewTimer(c.cfg.WakeDelay)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-c.resetCh:
		t.Stop()
	case <-t.C:
	}
	c.discard()

	for {
		s, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if s != nil {
			c.log.Info("controller ready", "state", s.Status)
			c.discard()
			return nil
		}
		if err = sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// State delivers every parsed status report. Old reports are dropped if the
// reader falls behind. The channel is closed when the reader stops.
func (c *Conn) State() <-chan machine.State { return c.stateCh }

// Close stops the reader and closes the underlying device.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.closeErr = c.rw.Close()
		select {
		case <-c.doneCh:
		case <-time.After(closeTimeout):
			c.log.Warn("reader did not stop after close")
		}
	})
	return c.closeErr
}
