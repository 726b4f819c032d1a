package machine

import (
	"fmt"
	"io"

	"github.com/mastercactapus/wellcnc/gcode"
)

// LoadMoves converts a program of rapid moves into Moves. Each block that
// moves must be a G0 touching either X/Y or Z, not both. Modal state such as
// G91 and G20 is tracked, and every Move holds the resulting absolute target.
func LoadMoves(r gcode.Reader) ([]Move, error) {
	vm := gcode.NewVM()
	var moves []Move
	for n := 1; ; n++ {
		b, err := r.Read()
		if err == io.EOF {
			return moves, nil
		}
		if err != nil {
			return nil, err
		}

		for _, w := range b {
			if w.W == 'G' && (w.Arg == 1 || w.Arg == 2 || w.Arg == 3) {
				return nil, fmt.Errorf("block %d: only rapid moves supported: %s", n, b)
			}
		}
		if err = vm.Run(b); err != nil {
			return nil, fmt.Errorf("block %d: %w", n, err)
		}

		var xy, z bool
		for _, w := range b.Axes() {
			if w.W == 'Z' {
				z = true
			} else {
				xy = true
			}
		}
		pos := vm.MPos()
		switch {
		case xy && z:
			return nil, fmt.Errorf("block %d: XY and Z must be separate moves: %s", n, b)
		case xy:
			moves = append(moves, XY(pos.X, pos.Y))
		case z:
			moves = append(moves, Z(pos.Z))
		}
	}
}
