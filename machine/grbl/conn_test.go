package grbl

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mastercactapus/wellcnc/coord"
	"github.com/mastercactapus/wellcnc/logger"
	"github.com/mastercactapus/wellcnc/machine"
	"github.com/mastercactapus/wellcnc/machine/grbl/grblsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = machine.Config{
	X: machine.Bounds{Low: 0, High: 100},
	Y: machine.Bounds{Low: 0, High: 100},
	Z: machine.Bounds{Low: -50, High: 0},

	ConnectTimeout: time.Second,
	WakeDelay:      20 * time.Millisecond,
	StatusTimeout:  100 * time.Millisecond,
	AckTimeout:     200 * time.Millisecond,
	SettleDelay:    5 * time.Millisecond,
	PollInterval:   5 * time.Millisecond,
	IdleTimeout:    2 * time.Second,
}

func newTestConn(t *testing.T, cfg machine.Config, opts grblsim.Options) (*Conn, *grblsim.Sim) {
	t.Helper()
	sim := grblsim.New(opts)
	c := NewConn(sim, cfg)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Wake(context.Background()))
	return c, sim
}

func TestConn_Status(t *testing.T) {
	c, _ := newTestConn(t, testConfig, grblsim.Options{})

	s, err := c.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "Idle", s.Status)
	assert.Equal(t, coord.Point{}, s.MPos)
	assert.Equal(t, 0, c.Pending())
}

func TestConn_WaitForIdle(t *testing.T) {
	ctx := context.Background()
	c, sim := newTestConn(t, testConfig, grblsim.Options{Rate: 200})

	require.NoError(t, c.SendLine(ctx, "G0 X10 Y5"))
	require.NoError(t, c.WaitForIdle(ctx))
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, coord.Point{X: 10, Y: 5}, sim.Position())

	s, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 10, Y: 5}, s.MPos)

	select {
	case st := <-c.State():
		assert.NotEmpty(t, st.Status)
	default:
		t.Fatal("expected status reports on the state channel")
	}
}

func TestConn_WaitForIdleErrors(t *testing.T) {
	ctx := context.Background()
	c, sim := newTestConn(t, testConfig, grblsim.Options{Limits: &testConfig})

	require.NoError(t, c.SendLine(ctx, "G2 X1 Y1 I1"))
	err := c.WaitForIdle(ctx)
	var cmdErr *machine.CommandError
	require.True(t, errors.As(err, &cmdErr), "got %v", err)
	assert.Equal(t, "20", cmdErr.Code)
	assert.Equal(t, "G2 X1 Y1 I1", cmdErr.Line)

	require.NoError(t, c.SendLine(ctx, "G0 X500"))
	err = c.WaitForIdle(ctx)
	var alarm *machine.AlarmError
	require.True(t, errors.As(err, &alarm), "got %v", err)

	require.NoError(t, c.Command(ctx, "$X"))
	err = c.Command(ctx, "$Q")
	require.True(t, errors.As(err, &cmdErr), "got %v", err)
	assert.Equal(t, "3", cmdErr.Code)

	assert.Equal(t, []string{"G2 X1 Y1 I1", "G0 X500", "$X", "$Q"}, sim.Lines())
}

func TestConn_AlarmLogged(t *testing.T) {
	l := logger.NewMockLogger()
	l.On("Log", logger.WarnLevel, "controller alarm", []any{"reply", "ALARM:2"}).Once()
	l.AllowOthers()
	prev := logger.GetLogger()
	logger.SetLogger(l)
	t.Cleanup(func() { logger.SetLogger(prev) })

	ctx := context.Background()
	c, _ := newTestConn(t, testConfig, grblsim.Options{Limits: &testConfig})

	require.NoError(t, c.SendLine(ctx, "G0 Y500"))
	var alarm *machine.AlarmError
	require.ErrorAs(t, c.WaitForIdle(ctx), &alarm)
	assert.Equal(t, "2", alarm.Code)
	l.AssertExpectations(t)
}

func TestConn_Unresponsive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig
	cfg.IdleTimeout = 100 * time.Millisecond
	c, sim := newTestConn(t, cfg, grblsim.Options{})

	sim.SetMute(true)
	s, err := c.Status(ctx)
	assert.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, c.SendLine(ctx, "G0 X1"))
	err = c.WaitForIdle(ctx)
	assert.ErrorIs(t, err, machine.ErrMachineUnresponsive)

	var ue *machine.UnresponsiveError
	require.True(t, errors.As(err, &ue))
	assert.Nil(t, ue.LastState)
}

func TestConn_Cancel(t *testing.T) {
	cfg := testConfig
	cfg.IdleTimeout = -1
	c, sim := newTestConn(t, cfg, grblsim.Options{})
	sim.SetMute(true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForIdle(ctx), context.DeadlineExceeded)
}

func TestConn_ResetAndClose(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConn(t, testConfig, grblsim.Options{})

	require.NoError(t, c.Reset(ctx))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	drained := make(chan struct{})
	go func() {
		for range c.State() {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("state stream still open after Close")
	}

	err := c.SendLine(ctx, "G0 X1")
	var te *machine.TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, machine.ErrClosed)

	_, err = c.Status(ctx)
	assert.Error(t, err)
}

func TestDial(t *testing.T) {
	sim := grblsim.New(grblsim.Options{})
	defer func(fn func(string, int) (io.ReadWriteCloser, error)) { openPort = fn }(openPort)
	openPort = func(name string, baud int) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyUSB0", name)
		assert.Equal(t, machine.DefaultBaudRate, baud)
		return sim, nil
	}

	c, err := Dial(context.Background(), "/dev/ttyUSB0", testConfig)
	require.NoError(t, err)
	assert.NoError(t, c.Close())

	openPort = func(string, int) (io.ReadWriteCloser, error) { return nil, errors.New("busy") }
	_, err = Dial(context.Background(), "/dev/ttyUSB1", testConfig)
	var ce *machine.ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "/dev/ttyUSB1", ce.Port)

	mute := grblsim.New(grblsim.Options{})
	mute.SetMute(true)
	openPort = func(string, int) (io.ReadWriteCloser, error) { return mute, nil }
	cfg := testConfig
	cfg.ConnectTimeout = 100 * time.Millisecond
	_, err = Dial(context.Background(), "/dev/ttyUSB2", cfg)
	require.True(t, errors.As(err, &ce))
}

func TestMachine_Sim(t *testing.T) {
	ctx := context.Background()
	c, sim := newTestConn(t, testConfig, grblsim.Options{Rate: 500})
	m := machine.NewMachine(c, testConfig)

	require.NoError(t, m.EnqueueXY(1, 2))
	require.NoError(t, m.EnqueueZ(-3))
	require.NoError(t, m.EnqueueXY(4, 5))
	require.NoError(t, m.ExecuteMovement(ctx))
	assert.Equal(t, []string{"G0 X1 Y2", "G0 Z-3", "G0 X4 Y5"}, sim.Lines())

	s, err := m.ReadCoordinates(ctx)
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 4, Y: 5, Z: -3}, s.MPos)

	homed, err := m.IsHomed(ctx)
	require.NoError(t, err)
	assert.True(t, homed)

	require.NoError(t, m.Disconnect())
}
