// Package plate maps microplate well names to machine coordinates.
package plate

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mastercactapus/wellcnc/coord"
	"gopkg.in/yaml.v3"
)

const rowLetters = "ABCDEFGHIJKLMNOP"

// Layout describes a rectangular well plate.
//
// The plate sits rotated on the bed: columns advance along Y by DX and rows
// advance along X by DY.
type Layout struct {
	Name       string
	Rows, Cols int

	// A1 is the XY position of well A1.
	A1 coord.Point

	DX, DY float64
}

// Check reports an unusable layout.
func (l Layout) Check() error {
	if l.Rows <= 0 || l.Cols <= 0 {
		return fmt.Errorf("plate %q: rows and cols must be positive", l.Name)
	}
	if l.Rows > len(rowLetters) {
		return fmt.Errorf("plate %q: at most %d rows supported", l.Name, len(rowLetters))
	}
	return nil
}

// At returns the position of the well at the zero-based row and column.
func (l Layout) At(row, col int) coord.Point {
	return coord.Point{
		X: l.A1.X + float64(row)*l.DY,
		Y: l.A1.Y + float64(col)*l.DX,
	}
}

// Name returns the name of the well at the zero-based row and column, e.g. `B3`.
func Name(row, col int) string {
	return string(rowLetters[row]) + strconv.Itoa(col+1)
}

// ParseName splits a well name like `b3` into a zero-based row and column.
func ParseName(name string) (row, col int, err error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if len(name) < 2 {
		return 0, 0, fmt.Errorf("invalid well name %q", name)
	}
	row = strings.IndexByte(rowLetters, name[0])
	if row < 0 {
		return 0, 0, fmt.Errorf("invalid well row in %q", name)
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 1 {
		return 0, 0, fmt.Errorf("invalid well column in %q", name)
	}
	return row, n - 1, nil
}

// Well returns the position of the named well.
func (l Layout) Well(name string) (coord.Point, error) {
	row, col, err := ParseName(name)
	if err != nil {
		return coord.Point{}, err
	}
	if row >= l.Rows || col >= l.Cols {
		return coord.Point{}, fmt.Errorf("well %s not on %dx%d plate", name, l.Rows, l.Cols)
	}
	return l.At(row, col), nil
}

// Wells returns all well names column by column: A1, B1, ..., A2, B2, ...
func (l Layout) Wells() []string {
	names := make([]string, 0, l.Rows*l.Cols)
	for c := 0; c < l.Cols; c++ {
		for r := 0; r < l.Rows; r++ {
			names = append(names, Name(r, c))
		}
	}
	return names
}

type layoutYAML struct {
	Rows int     `yaml:"rows"`
	Cols int     `yaml:"cols"`
	A1X  float64 `yaml:"a1_x"`
	A1Y  float64 `yaml:"a1_y"`
	DX   float64 `yaml:"dx"`
	DY   float64 `yaml:"dy"`
}

// ParseLayouts reads the `plates:` section of a settings file.
func ParseLayouts(data []byte) (map[string]Layout, error) {
	var f struct {
		Plates map[string]layoutYAML `yaml:"plates"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plates: %w", err)
	}
	if len(f.Plates) == 0 {
		return nil, errors.New("no plates defined")
	}

	res := make(map[string]Layout, len(f.Plates))
	for name, p := range f.Plates {
		l := Layout{
			Name: name,
			Rows: p.Rows,
			Cols: p.Cols,
			A1:   coord.Point{X: p.A1X, Y: p.A1Y},
			DX:   p.DX,
			DY:   p.DY,
		}
		if err := l.Check(); err != nil {
			return nil, err
		}
		res[name] = l
	}
	return res, nil
}

// LoadLayouts reads plate layouts from the YAML file at path.
func LoadLayouts(path string) (map[string]Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseLayouts(data)
}
