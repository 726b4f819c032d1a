package gcode

import (
	"testing"

	"github.com/mastercactapus/wellcnc/coord"
	"github.com/stretchr/testify/assert"
)

func TestVM_Run(t *testing.T) {
	vm := NewVM()

	for _, b := range MustParse("G0 X10 Y20\nG0 Z-5") {
		assert.NoError(t, vm.Run(b))
	}
	assert.Equal(t, coord.Point{X: 10, Y: 20, Z: -5}, vm.MPos())

	assert.NoError(t, vm.Run(MustParse("G91 G0 X1")[0]))
	assert.Equal(t, coord.Point{X: 11, Y: 20, Z: -5}, vm.MPos())

	assert.NoError(t, vm.Run(MustParse("G90 G53 G0 Z0")[0]))
	assert.Equal(t, coord.Point{X: 11, Y: 20, Z: 0}, vm.MPos())

	assert.Error(t, vm.Run(MustParse("G2 X1")[0]))
}

func TestVM_Inches(t *testing.T) {
	vm := NewVM()
	assert.NoError(t, vm.Run(MustParse("G20 G0 X1")[0]))
	assert.InDelta(t, 25.4, vm.MPos().X, 1e-9)
}
