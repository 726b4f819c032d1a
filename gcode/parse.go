// Package gcode parses and interprets the rapid-move subset of G-code
// accepted by GRBL controllers.
package gcode

import (
	"io"
	"strings"
)

// Parse reads every block from a program held in memory.
func Parse(program string) ([]Block, error) {
	return readAll(NewParser(strings.NewReader(program)))
}

// MustParse is like Parse but panics on error. It is meant for programs
// written into the source, such as tests.
func MustParse(program string) []Block {
	b, err := Parse(program)
	if err != nil {
		panic(err)
	}
	return b
}

func readAll(r Reader) ([]Block, error) {
	var blocks []Block
	for {
		b, err := r.Read()
		if err == io.EOF {
			return blocks, nil
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
}
