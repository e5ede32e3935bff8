package selfplay

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Barrier blocks callers until n of them have arrived, then releases them
// all. It can be reused for successive rounds.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	n          int
	arrived    int
	generation int

	pending error
	result  error
}

func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Barrier) Wait() { _ = b.WaitErr(nil) }

// WaitErr is Wait with an error exchange: every caller of a round returns
// the first non-nil error passed in by any participant of that round.
func (b *Barrier) WaitErr(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.generation
	if err != nil && b.pending == nil {
		b.pending = err
	}
	b.arrived++
	if b.arrived == b.n {
		b.result = b.pending
		b.pending = nil
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return b.result
	}
	for gen == b.generation {
		b.cond.Wait()
	}
	return b.result
}

// SyncCheckpoint hands a checkpoint from rank 0 to every participant: rank
// 0 saves, everybody waits at the barrier, then everybody loads. A failed
// save is reported by every rank and nobody loads.
func SyncCheckpoint(rank int, b *Barrier, save, load func() error) error {
	var saveErr error
	if rank == 0 && save != nil {
		saveErr = save()
		if saveErr != nil {
			log.Error().Err(saveErr).Msg("checkpoint save failed")
		}
	}
	if err := b.WaitErr(saveErr); err != nil {
		return fmt.Errorf("rank %d save checkpoint: %w", rank, err)
	}
	if load != nil {
		if err := load(); err != nil {
			return fmt.Errorf("rank %d load checkpoint: %w", rank, err)
		}
	}
	return nil
}
