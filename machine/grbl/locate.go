package grbl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/mastercactapus/wellcnc/logger"
	"github.com/mastercactapus/wellcnc/machine"
)

var rxStatusFrame = regexp.MustCompile(`<[^<>\r\n]+>`)

// probeResend is how often `?` is repeated while probing, since boards that
// reset on open miss the first query.
const probeResend = 250 * time.Millisecond

// Locator finds the serial device a controller is attached to.
type Locator struct {
	BaudRate     int
	ProbeTimeout time.Duration

	// List returns candidate device names in probe order.
	List func() ([]string, error)

	// Open opens a device for probing.
	Open func(name string, baud int) (io.ReadWriteCloser, error)

	Log logger.Logger
}

// NewLocator returns a Locator for the system's serial devices using the
// baud rate and probe timeout from cfg.
func NewLocator(cfg machine.Config) *Locator {
	cfg = cfg.WithDefaults()
	return &Locator{
		BaudRate:     cfg.BaudRate,
		ProbeTimeout: cfg.ProbeTimeout,
		List:         PortNames,
		Open:         OpenSerial,
		Log:          logger.With("component", "locator"),
	}
}

// Locate returns the name of the device the controller answers on.
//
// A single candidate is returned without being opened. Otherwise each
// device is opened in turn, sent a status query and closed again; the
// first one to reply with a status report wins.
func (l *Locator) Locate(ctx context.Context) (string, error) {
	names, err := l.List()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	switch len(names) {
	case 0:
		return "", machine.ErrNoPortFound
	case 1:
		l.Log.Info("using only serial port", "port", names[0])
		return names[0], nil
	}

	for _, name := range names {
		if err = ctx.Err(); err != nil {
			return "", err
		}
		ok, err := l.probe(ctx, name)
		if err != nil {
			l.Log.Debug("probe failed", "port", name, "error", err)
			continue
		}
		if ok {
			l.Log.Info("controller found", "port", name)
			return name, nil
		}
		l.Log.Debug("no controller", "port", name)
	}

	return "", machine.ErrNoPortFound
}

func (l *Locator) probe(ctx context.Context, name string) (bool, error) {
	port, err := l.Open(name, l.BaudRate)
	if err != nil {
		return false, err
	}
	defer port.Close()

	found := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		var buf []byte
		tmp := make([]byte, 128)
		for {
			n, err := port.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if rxStatusFrame.Match(buf) {
				found <- nil
				return
			}
			if err != nil && !errors.Is(err, io.EOF) {
				found <- err
				return
			}
			if n == 0 {
				// read timeout or a port that reports EOF without blocking
				select {
				case <-done:
					return
				case <-time.After(10 * time.Millisecond):
				}
			}
			if len(buf) > 4096 {
				buf = buf[len(buf)-256:]
			}
		}
	}()

	timeout := time.NewTimer(l.ProbeTimeout)
	defer timeout.Stop()
	resend := time.NewTicker(probeResend)
	defer resend.Stop()

	for {
		if _, err = port.Write([]byte{cmdStatus}); err != nil {
			return false, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timeout.C:
			return false, nil
		case err = <-found:
			return err == nil, err
		case <-resend.C:
		}
	}
}
