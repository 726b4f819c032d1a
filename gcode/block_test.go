package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlock_String(t *testing.T) {
	b := Rapid(Word{W: 'X', Arg: 12.5}, Word{W: 'Y', Arg: -7.25})
	assert.Equal(t, "G0 X12.5 Y-7.25", b.String())

	b = Rapid(Word{W: 'Z', Arg: -0.0})
	assert.Equal(t, "G0 Z0", b.String())

	b = Rapid(Word{W: 'X', Arg: 1.23456})
	assert.Equal(t, "G0 X1.235", b.String())
}

func TestBlock_Validate(t *testing.T) {
	assert.NoError(t, MustParse("G90 G0 X1 Y2")[0].Validate())
	assert.Error(t, MustParse("G0 X1 X2")[0].Validate())
	assert.Error(t, MustParse("G0 G1 X1")[0].Validate())
}

func TestBlock_Axes(t *testing.T) {
	b := MustParse("G0 X1 F100 Z3")[0]
	assert.Equal(t, Block{{W: 'X', Arg: 1}, {W: 'Z', Arg: 3}}, b.Axes())
}

func TestParser_Read(t *testing.T) {
	blocks, err := Parse("g0 x10 y20 ; first well\n\n$H\n")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	assert.Nil(t, blocks)

	blocks, err = Parse("G0 X10 Y20\nG0 Z-5")
	assert.NoError(t, err)
	assert.Equal(t, []Block{
		{{W: 'G', Arg: 0}, {W: 'X', Arg: 10}, {W: 'Y', Arg: 20}},
		{{W: 'G', Arg: 0}, {W: 'Z', Arg: -5}},
	}, blocks)
}
