package machine

import "context"

// An Adapter represents the minimal controller interface a Machine drives.
//
// Implementations only need to support one caller at a time; Machine
// serializes access.
type Adapter interface {
	// Status queries the controller once. A missing or unparsable reply
	// returns a nil State and nil error.
	Status(ctx context.Context) (*State, error)

	// SendLine writes a single line, adding the trailing newline.
	SendLine(ctx context.Context, line string) error

	// WaitForIdle blocks until the last sent line has been acknowledged and the
	// controller reports Idle.
	WaitForIdle(ctx context.Context) error

	// Command sends a system command (like `$X`) and waits for its ack.
	Command(ctx context.Context, cmd string) error

	// Reset performs a soft reset and waits for the controller to come back.
	Reset(ctx context.Context) error

	// State delivers every status report received. Slow readers miss updates.
	State() <-chan State

	Close() error
}
