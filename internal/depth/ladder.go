package depth

import (
	"maps"
	"slices"

	"market-stream/internal/price"
)

// Ladder maps price -> size for one side of one selection. It is stored
// unordered; best-N reads sort the live levels on demand.
//
// A Ladder is not safe for concurrent use; the owning cache serializes access.
type Ladder struct {
	levels map[price.Price]price.Size
}

func NewLadder() *Ladder {
	return &Ladder{levels: make(map[price.Price]price.Size)}
}

// Upsert sets the size at p. A zero size removes the level.
func (l *Ladder) Upsert(p price.Price, s price.Size) {
	if s.IsZero() {
		delete(l.levels, p)
		return
	}
	l.levels[p] = s
}

// Query returns the size at p, or zero when the level is absent.
func (l *Ladder) Query(p price.Price) price.Size {
	return l.levels[p]
}

func (l *Ladder) Len() int { return len(l.levels) }

func (l *Ladder) Clear() { clear(l.levels) }

// BestN returns up to n levels, best first for the given side.
func (l *Ladder) BestN(side Side, n int) []Level {
	if n <= 0 || len(l.levels) == 0 {
		return nil
	}
	out := l.sorted(side)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Levels returns every live level in ascending price order.
func (l *Ladder) Levels() []Level {
	return l.sorted(Lay)
}

func (l *Ladder) sorted(side Side) []Level {
	out := make([]Level, 0, len(l.levels))
	for p, s := range l.levels {
		out = append(out, Level{Price: p, Size: s})
	}
	slices.SortFunc(out, func(a, b Level) int {
		if side == Back {
			// best back offer is the highest price
			return b.Price.Cmp(a.Price)
		}
		return a.Price.Cmp(b.Price)
	})
	return out
}

// Total sums the size across all levels.
func (l *Ladder) Total() price.Size {
	var c int64
	for _, s := range l.levels {
		c += s.Cents()
	}
	return price.SizeFromCents(c)
}

func (l *Ladder) Clone() *Ladder {
	return &Ladder{levels: maps.Clone(l.levels)}
}

// PositionLadder holds best-available levels keyed by their position
// (0 is the best). A zero size removes the position.
type PositionLadder struct {
	levels map[int]Level
}

func NewPositionLadder() *PositionLadder {
	return &PositionLadder{levels: make(map[int]Level)}
}

func (l *PositionLadder) Upsert(pos int, p price.Price, s price.Size) {
	if s.IsZero() {
		delete(l.levels, pos)
		return
	}
	l.levels[pos] = Level{Price: p, Size: s}
}

// At returns the level at pos.
func (l *PositionLadder) At(pos int) (Level, bool) {
	lv, ok := l.levels[pos]
	return lv, ok
}

func (l *PositionLadder) Len() int { return len(l.levels) }

func (l *PositionLadder) Clear() { clear(l.levels) }

// BestN returns up to n levels ordered by position.
func (l *PositionLadder) BestN(n int) []PositionLevel {
	if n <= 0 || len(l.levels) == 0 {
		return nil
	}
	out := make([]PositionLevel, 0, len(l.levels))
	for pos, lv := range l.levels {
		out = append(out, PositionLevel{Position: pos, Price: lv.Price, Size: lv.Size})
	}
	slices.SortFunc(out, func(a, b PositionLevel) int { return a.Position - b.Position })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (l *PositionLadder) Clone() *PositionLadder {
	return &PositionLadder{levels: maps.Clone(l.levels)}
}
