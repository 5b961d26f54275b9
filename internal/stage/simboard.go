package stage

import (
	"sync"
	"time"
)

// SimBoard is an in-memory stage for development rigs and tests. Moves take
// MoveDelay to mimic the blocking motion of the real actuator.
type SimBoard struct {
	mu        sync.Mutex
	pos       Coordinates
	MoveDelay time.Duration
}

func NewSimBoard() *SimBoard {
	return &SimBoard{}
}

func (b *SimBoard) Position() (Coordinates, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos, nil
}

func (b *SimBoard) MoveTo(to Coordinates) error {
	if b.MoveDelay > 0 {
		time.Sleep(b.MoveDelay)
	}
	b.mu.Lock()
	b.pos = to
	b.mu.Unlock()
	return nil
}

func (b *SimBoard) Zero() error {
	b.mu.Lock()
	b.pos = Coordinates{}
	b.mu.Unlock()
	return nil
}
