package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Gate isolates a finished interview from further candidate input. It starts
// open and passes everything; once sealed it forwards only control and
// system frames and silently drops data frames. Sealing is monotone, there
// is no unseal.
type Gate struct {
	sealed atomic.Bool
	log    *slog.Logger
}

var _ Stage = (*Gate)(nil)

// NewGate returns an open gate.
func NewGate(log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{log: log}
}

// Seal closes the gate to data frames. Idempotent.
func (g *Gate) Seal() {
	if g.sealed.CompareAndSwap(false, true) {
		g.log.Info("gate sealed, dropping further data frames")
	}
}

// Sealed reports whether the gate has been sealed.
func (g *Gate) Sealed() bool { return g.sealed.Load() }

func (g *Gate) Name() string { return "gate" }

func (g *Gate) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if g.sealed.Load() && f.Class() == ClassData {
				g.log.Debug("gate dropped frame", "kind", f.Kind())
				continue
			}
			if !Forward(ctx, out, f) {
				return nil
			}
		}
	}
}
