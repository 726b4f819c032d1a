package machine

import (
	"fmt"

	"github.com/mastercactapus/wellcnc/gcode"
)

// MoveKind tags which axis group a Move targets.
type MoveKind int

const (
	MoveXY MoveKind = iota
	MoveZ
)

func (k MoveKind) String() string {
	if k == MoveZ {
		return "Z"
	}
	return "XY"
}

// A Move is a single queued rapid move. XY moves ignore Z, Z moves ignore X and Y.
type Move struct {
	Kind    MoveKind
	X, Y, Z float64
}

// XY returns a Move to the given XY position.
func XY(x, y float64) Move { return Move{Kind: MoveXY, X: x, Y: y} }

// Z returns a Move to the given height.
func Z(z float64) Move { return Move{Kind: MoveZ, Z: z} }

// Block returns the rapid motion block for the move with the configured
// XY offsets applied.
func (mv Move) Block(cfg Config) gcode.Block {
	if mv.Kind == MoveZ {
		return gcode.Rapid(gcode.Word{W: 'Z', Arg: mv.Z})
	}
	return gcode.Rapid(
		gcode.Word{W: 'X', Arg: mv.X + cfg.XOffset},
		gcode.Word{W: 'Y', Arg: mv.Y + cfg.YOffset},
	)
}

func (mv Move) String() string {
	if mv.Kind == MoveZ {
		return fmt.Sprintf("Z(%g)", mv.Z)
	}
	return fmt.Sprintf("XY(%g, %g)", mv.X, mv.Y)
}

func (cfg Config) validateMove(mv Move) error {
	if mv.Kind == MoveZ {
		return cfg.Validate(AxisZ, mv.Z)
	}
	if err := cfg.Validate(AxisX, mv.X); err != nil {
		return err
	}
	return cfg.Validate(AxisY, mv.Y)
}
