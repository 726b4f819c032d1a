package gcode

import "io"

// Reader is a source of blocks. Read returns io.EOF once the program is
// exhausted.
type Reader interface {
	Read() (Block, error)
}

// BlocksReader replays an in-memory program.
type BlocksReader struct {
	Blocks []Block
	n      int
}

func (r *BlocksReader) Read() (Block, error) {
	if r.n >= len(r.Blocks) {
		return nil, io.EOF
	}
	r.n++
	return r.Blocks[r.n-1], nil
}
