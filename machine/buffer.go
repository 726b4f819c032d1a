package machine

import "sync"

// Buffer is a FIFO of pending moves. It is safe for concurrent use, but
// dispatching drained moves must still be serialized by the caller.
type Buffer struct {
	mx    sync.Mutex
	moves []Move
}

func (b *Buffer) EnqueueXY(x, y float64) { b.Enqueue(XY(x, y)) }
func (b *Buffer) EnqueueZ(z float64)     { b.Enqueue(Z(z)) }

// Enqueue appends moves in order.
func (b *Buffer) Enqueue(moves ...Move) {
	b.mx.Lock()
	b.moves = append(b.moves, moves...)
	b.mx.Unlock()
}

// Drain empties the buffer and returns its previous contents.
func (b *Buffer) Drain() []Move {
	b.mx.Lock()
	defer b.mx.Unlock()
	moves := b.moves
	b.moves = nil
	return moves
}

// Len returns the number of pending moves.
func (b *Buffer) Len() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.moves)
}
