package grbl

import (
	"testing"

	"github.com/mastercactapus/wellcnc/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("<Idle|MPos:12.500,7.250,0.000|FS:0,0>")
	require.NoError(t, err)
	assert.Equal(t, "Idle", s.Status)
	assert.Equal(t, coord.Point{X: 12.5, Y: 7.25, Z: 0}, s.MPos)
	assert.True(t, s.Idle())

	s, err = ParseStatus("<Hold:0|MPos:1.000,-2.000,-3.500|FS:500,0|WCO:1.000,0.000,0.000>\r\n")
	require.NoError(t, err)
	assert.Equal(t, "Hold", s.Tag())
	assert.Equal(t, coord.Point{X: 1}, s.WCO)
	assert.Equal(t, coord.Point{X: 0, Y: -2, Z: -3.5}, s.WPos())

	s, err = ParseStatus("<Run,MPos:5.529,0.560,7.000,WPos:1.529,-5.440,-0.000>")
	require.NoError(t, err)
	assert.Equal(t, "Run", s.Status)
	assert.Equal(t, coord.Point{X: 5.529, Y: 0.56, Z: 7}, s.MPos)
	assert.InDelta(t, 4.0, s.WCO.X, 1e-9)

	s, err = ParseStatus("<Alarm|MPos:0.000,0.000,0.000|FS:0,0>")
	require.NoError(t, err)
	assert.True(t, s.Alarm())
}

func TestParseStatus_Invalid(t *testing.T) {
	for _, frame := range []string{
		"<Idle|MPos:12.500,7.2",
		"<Idle|FS:0,0>",
		"<Idle|MPos:1,2|FS:0,0>",
		"<Idle|MPos:a,b,c>",
		"<Idle>",
		"<|MPos:1,2,3>",
		"ok",
		"",
	} {
		s, err := ParseStatus(frame)
		assert.Error(t, err, frame)
		assert.Nil(t, s, frame)
	}
}
