package gcode

import (
	"errors"
	"strings"
)

// Block is a single line of gcode.
type Block []Word

// Rapid returns a G0 block moving the given axis words.
func Rapid(axes ...Word) Block {
	return append(Block{{W: 'G', Arg: 0}}, axes...)
}

// String formats the block as a single line with words separated by spaces,
// e.g. `G0 X10 Y2.5`.
func (b Block) String() string {
	parts := make([]string, len(b))
	for i, w := range b {
		parts[i] = w.String()
	}
	return strings.Join(parts, " ")
}

// Axes returns the axis words of the block.
func (b Block) Axes() Block {
	res := make(Block, 0, len(b))
	for _, g := range b {
		if g.IsAxis() {
			res = append(res, g)
		}
	}
	return res
}

// Args returns the non-modal words of the block, such as axes.
func (b Block) Args() Block {
	res := make(Block, 0, len(b))
	for _, g := range b {
		if g.ModalGroup() == ModalGroupNone {
			res = append(res, g)
		}
	}
	return res
}

// Validate rejects repeated words and conflicting modal words.
func (b Block) Validate() error {
	var checkWord [256]bool
	var checkModal [256]bool

	var m ModalGroup
	for _, g := range b {
		if !g.IsValid() {
			return errors.New("invalid word in block")
		}
		if g.W != 'G' && checkWord[g.W] {
			return errors.New("word was repeated in a block")
		}
		checkWord[g.W] = true
		m = g.ModalGroup()
		if m != ModalGroupNone && checkModal[m] {
			return errors.New("multiple words from same modal group")
		}
		checkModal[m] = true
	}

	return nil
}
