package machine

import (
	"context"
	"fmt"

	"github.com/mastercactapus/wellcnc/plate"
)

// DwellFunc is called while the head is lowered into a well. The Machine
// is held for the duration, so it must not call back into the Machine.
type DwellFunc func(ctx context.Context, well string) error

// DispenseWells visits each well: up to travel height, over the well, down to
// dispense height, dwell, and back up. All wells are resolved and bounds
// checked before the first move. An empty list visits every well on the
// plate.
func (m *Machine) DispenseWells(ctx context.Context, l plate.Layout, wells []string, dwell DwellFunc) error {
	if len(wells) == 0 {
		wells = l.Wells()
	}

	targets := make([]Move, len(wells))
	for i, name := range wells {
		p, err := l.Well(name)
		if err != nil {
			return err
		}
		targets[i] = XY(p.X, p.Y)
		if err = m.cfg.validateMove(targets[i]); err != nil {
			return fmt.Errorf("well %s: %w", name, err)
		}
	}
	if err := m.cfg.Validate(AxisZ, m.cfg.TravelZ); err != nil {
		return fmt.Errorf("travel height: %w", err)
	}
	if err := m.cfg.Validate(AxisZ, m.cfg.DispenseZ); err != nil {
		return fmt.Errorf("dispense height: %w", err)
	}

	for i, name := range wells {
		m.log.Info("dispense", "well", name, "n", i+1, "of", len(wells))
		if err := m.dispenseWell(ctx, name, targets[i], dwell); err != nil {
			return fmt.Errorf("well %s: %w", name, err)
		}
	}
	return nil
}

// dispenseWell holds mx from leaving travel height until the head is back
// up, so no other sequence can move the head while it is in a well.
func (m *Machine) dispenseWell(ctx context.Context, name string, target Move, dwell DwellFunc) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	err := m.executeLocked(ctx, Z(m.cfg.TravelZ), target, Z(m.cfg.DispenseZ))
	if err != nil {
		return err
	}
	if dwell != nil {
		if err = dwell(ctx, name); err != nil {
			// the head is down; leave the well before reporting
			if upErr := m.executeLocked(context.WithoutCancel(ctx), Z(m.cfg.TravelZ)); upErr != nil {
				m.log.Error("raise after dwell", "well", name, "error", upErr)
			}
			return err
		}
	}
	return m.executeLocked(ctx, Z(m.cfg.TravelZ))
}
