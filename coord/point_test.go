package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2, Z: 3}
	b := Point{X: 4, Y: 5, Z: 6}

	assert.Equal(t, Point{X: 5, Y: 7, Z: 9}, a.Add(b))
}

func TestPoint_DistanceXY(t *testing.T) {
	dist := Point{X: 1, Y: 2, Z: 3}.DistanceXY(4, 5)
	assert.InEpsilon(t, 4.24264, dist, .01)
}

func TestPoint_Distance(t *testing.T) {
	dist := Point{}.Distance(Point{X: 3, Y: 4})
	assert.Equal(t, 5.0, dist)
}

func TestPoint_Lerp(t *testing.T) {
	a := Point{X: 10, Y: 10, Z: 10}
	b := Point{X: 20, Y: 0, Z: 10}

	assert.Equal(t, Point{X: 15, Y: 5, Z: 10}, a.Lerp(b, 0.5))
	assert.Equal(t, a, a.Lerp(b, -1))
	assert.Equal(t, b, a.Lerp(b, 2))
}
