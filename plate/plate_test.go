package plate

import (
	"testing"

	"github.com/mastercactapus/wellcnc/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_Well(t *testing.T) {
	l := Layout{Rows: 4, Cols: 6, A1: coord.Point{X: 200, Y: 200}, DX: -15, DY: -10}

	p, err := l.Well("A1")
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 200, Y: 200}, p)

	p, err = l.Well("b3")
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 190, Y: 170}, p)

	p, err = l.Well("D6")
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 170, Y: 125}, p)

	_, err = l.Well("E1")
	assert.Error(t, err)
	_, err = l.Well("A7")
	assert.Error(t, err)
	_, err = l.Well("A0")
	assert.Error(t, err)
	_, err = l.Well("1A")
	assert.Error(t, err)
}

func TestLayout_Wells(t *testing.T) {
	l := Layout{Rows: 2, Cols: 3}
	assert.Equal(t, []string{"A1", "B1", "A2", "B2", "A3", "B3"}, l.Wells())
}

func TestParseLayouts(t *testing.T) {
	layouts, err := ParseLayouts([]byte(`
plates:
  24well:
    rows: 4
    cols: 6
    a1_x: 200
    a1_y: 195.5
    dx: -15
    dy: -10
`))
	require.NoError(t, err)
	require.Contains(t, layouts, "24well")

	l := layouts["24well"]
	assert.Equal(t, "24well", l.Name)
	assert.Equal(t, coord.Point{X: 200, Y: 195.5}, l.A1)
	assert.Len(t, l.Wells(), 24)

	_, err = ParseLayouts([]byte("plates:\n  bad:\n    rows: 0\n    cols: 2\n"))
	assert.Error(t, err)

	_, err = ParseLayouts([]byte("machines: {}\n"))
	assert.Error(t, err)
}
