package machine

import (
	"context"
	"strings"
	"sync"

	"github.com/mastercactapus/wellcnc/coord"
	"github.com/mastercactapus/wellcnc/logger"
)

// Status tags reported by the controller.
const (
	StatusIdle  = "Idle"
	StatusRun   = "Run"
	StatusHold  = "Hold"
	StatusJog   = "Jog"
	StatusAlarm = "Alarm"
	StatusDoor  = "Door"
	StatusCheck = "Check"
	StatusHome  = "Home"
	StatusSleep = "Sleep"
)

// State is a single parsed status report.
type State struct {
	Status string
	MPos   coord.Point
	WCO    coord.Point
}

// Tag returns the status without a substate, e.g. `Hold` for `Hold:0`.
func (s State) Tag() string {
	tag, _, _ := strings.Cut(s.Status, ":")
	return tag
}

func (s State) Idle() bool  { return s.Tag() == StatusIdle }
func (s State) Alarm() bool { return s.Tag() == StatusAlarm }

// WPos returns the work position.
func (s State) WPos() coord.Point { return s.MPos.Sub(s.WCO) }

// Phase is the lifecycle stage of a Machine.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseReady
	PhaseDispatching
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseReady:
		return "ready"
	case PhaseDispatching:
		return "dispatching"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// A Dialer opens an Adapter for cfg.
type Dialer func(ctx context.Context, cfg Config) (Adapter, error)

// Machine queues validated moves and dispatches them to a controller one
// line at a time.
type Machine struct {
	cfg Config
	buf Buffer
	log logger.Logger

	// mx is held for every operation that talks to the controller.
	mx sync.Mutex

	pmx   sync.RWMutex
	a     Adapter
	phase Phase
}

// New creates a disconnected Machine. Call Connect before dispatching.
func New(cfg Config) *Machine {
	return &Machine{
		cfg: cfg.WithDefaults(),
		log: logger.With("model", cfg.Model),
	}
}

// NewMachine creates a Machine that is ready to use a.
func NewMachine(a Adapter, cfg Config) *Machine {
	m := New(cfg)
	m.a = a
	m.phase = PhaseReady
	return m
}

// SetLogger replaces the logger used by m.
func (m *Machine) SetLogger(l logger.Logger) { m.log = l }

// Config returns the machine configuration with defaults applied.
func (m *Machine) Config() Config { return m.cfg }

// Phase returns the current lifecycle stage.
func (m *Machine) Phase() Phase {
	m.pmx.RLock()
	defer m.pmx.RUnlock()
	return m.phase
}

func (m *Machine) setPhase(p Phase) {
	m.pmx.Lock()
	if m.phase != p {
		m.log.Debug("phase", "from", m.phase.String(), "to", p.String())
	}
	m.phase = p
	m.pmx.Unlock()
}

// State returns the status stream of the connected controller, or nil.
func (m *Machine) State() <-chan State {
	m.pmx.RLock()
	defer m.pmx.RUnlock()
	if m.a == nil {
		return nil
	}
	return m.a.State()
}

// Connect opens the controller with dial. Calling Connect on a ready
// Machine is a no-op.
func (m *Machine) Connect(ctx context.Context, dial Dialer) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	switch m.Phase() {
	case PhaseClosed:
		return ErrClosed
	case PhaseReady:
		return nil
	}

	m.setPhase(PhaseConnecting)
	a, err := dial(ctx, m.cfg)
	if err != nil {
		m.setPhase(PhaseDisconnected)
		return err
	}

	m.pmx.Lock()
	m.a = a
	m.pmx.Unlock()
	m.setPhase(PhaseReady)
	m.log.Info("connected")
	return nil
}

// adapter must be called with mx held.
func (m *Machine) adapter() (Adapter, error) {
	m.pmx.RLock()
	defer m.pmx.RUnlock()
	switch m.phase {
	case PhaseClosed:
		return nil, ErrClosed
	case PhaseReady:
		return m.a, nil
	}
	return nil, ErrNotConnected
}

// EnqueueXY validates and queues an XY move. Offsets are not applied
// until dispatch.
func (m *Machine) EnqueueXY(x, y float64) error {
	return m.Enqueue(XY(x, y))
}

// EnqueueZ validates and queues a Z move.
func (m *Machine) EnqueueZ(z float64) error {
	return m.Enqueue(Z(z))
}

// Enqueue validates all moves and queues them. If any move is out of
// bounds nothing is queued.
func (m *Machine) Enqueue(moves ...Move) error {
	for _, mv := range moves {
		if err := m.cfg.validateMove(mv); err != nil {
			return err
		}
	}
	m.buf.Enqueue(moves...)
	return nil
}

// Pending returns the number of queued moves.
func (m *Machine) Pending() int { return m.buf.Len() }

// Clear discards all queued moves.
func (m *Machine) Clear() { m.buf.Drain() }

// MoveToTravelHeight queues a move to the configured travel height.
func (m *Machine) MoveToTravelHeight() error { return m.EnqueueZ(m.cfg.TravelZ) }

// MoveToDispenseHeight queues a move to the configured dispense height.
func (m *Machine) MoveToDispenseHeight() error { return m.EnqueueZ(m.cfg.DispenseZ) }

// ExecuteMovement drains the queue and runs each move to completion before
// sending the next. On failure the remaining moves are discarded and a
// *DispatchError is returned.
//
// The queue is shared by all callers of m; use Run to dispatch a sequence
// without picking up moves queued elsewhere.
func (m *Machine) ExecuteMovement(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	// keep the queue intact while there is nothing to send it to
	if _, err := m.adapter(); err != nil {
		return err
	}
	return m.executeLocked(ctx, m.buf.Drain()...)
}

// Run validates moves and dispatches them as one uninterrupted sequence.
// The queue is neither read nor modified. If any move is out of bounds
// nothing is sent.
func (m *Machine) Run(ctx context.Context, moves ...Move) error {
	for _, mv := range moves {
		if err := m.cfg.validateMove(mv); err != nil {
			return err
		}
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	return m.executeLocked(ctx, moves...)
}

// executeLocked must be called with mx held.
func (m *Machine) executeLocked(ctx context.Context, moves ...Move) error {
	a, err := m.adapter()
	if err != nil {
		return err
	}
	if len(moves) == 0 {
		return nil
	}

	m.setPhase(PhaseDispatching)
	defer m.setPhase(PhaseReady)

	for i, mv := range moves {
		line := mv.Block(m.cfg).String()
		m.log.Debug("dispatch", "line", line, "n", i+1, "of", len(moves))

		err = a.SendLine(ctx, line)
		if err == nil {
			err = a.WaitForIdle(ctx)
		}
		if err != nil {
			m.log.Error("dispatch failed", "line", line, "error", err, "discarded", len(moves)-i-1)
			return &DispatchError{Done: i, Total: len(moves), Move: mv, Err: err}
		}
	}

	return nil
}

// ReadCoordinates queries the controller for its position. A nil State with a
// nil error means the position is temporarily unknown.
func (m *Machine) ReadCoordinates(ctx context.Context) (*State, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	a, err := m.adapter()
	if err != nil {
		return nil, err
	}
	return a.Status(ctx)
}

// IsHomed reports whether the controller answers a status query without an
// alarm. No reply counts as not homed.
func (m *Machine) IsHomed(ctx context.Context) (bool, error) {
	s, err := m.ReadCoordinates(ctx)
	if err != nil {
		return false, err
	}
	return s != nil && !s.Alarm(), nil
}

// Home runs the homing cycle and waits for it to finish.
func (m *Machine) Home(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	a, err := m.adapter()
	if err != nil {
		return err
	}

	m.log.Info("homing")
	m.setPhase(PhaseDispatching)
	defer m.setPhase(PhaseReady)
	if err = a.SendLine(ctx, "$H"); err != nil {
		return err
	}
	return a.WaitForIdle(ctx)
}

// Unlock clears an alarm with `$X`.
func (m *Machine) Unlock(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	a, err := m.adapter()
	if err != nil {
		return err
	}
	m.log.Warn("clearing alarm lock")
	return a.Command(ctx, "$X")
}

// Reset soft-resets the controller. Queued moves are kept.
func (m *Machine) Reset(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	a, err := m.adapter()
	if err != nil {
		return err
	}
	m.log.Info("soft reset")
	return a.Reset(ctx)
}

// Disconnect closes the connection. The Machine can not be used afterwards.
func (m *Machine) Disconnect() error {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.pmx.Lock()
	a := m.a
	m.a = nil
	m.pmx.Unlock()
	m.setPhase(PhaseClosed)

	if a == nil {
		return nil
	}
	if err := a.Close(); err != nil {
		return err
	}
	m.log.Info("disconnected")
	return nil
}
