package coord

import (
	"math"
)

// Point is a machine coordinate in millimeters.
type Point struct{ X, Y, Z float64 }

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// Lerp returns the point at fraction t of the way from p to the target.
// t is clamped to [0,1].
func (p Point) Lerp(target Point, t float64) Point {
	t = math.Max(0, math.Min(1, t))
	return p.Add(target.Sub(p).Mul(t))
}

// Distance will return the 3D distance between p and the target.
func (p Point) Distance(target Point) float64 {
	d := target.Sub(p)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// DistanceXY will return the 2D distance to p from (x,y).
func (p Point) DistanceXY(x, y float64) float64 {
	return math.Sqrt(math.Pow(x-p.X, 2) + math.Pow(y-p.Y, 2))
}
