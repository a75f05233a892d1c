package nexsync

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// CellInfo is a snapshot of one live cell's diagnostic state, returned by
// Coordinator.Cells(). It is a read of a moment in time, not a
// transactionally consistent view across cells.
type CellInfo struct {
	ID           CellID
	Current      any
	Previous     any
	MemberCount  int
	CreationTime time.Time
}

// Cells returns a snapshot of every cell the coordinator still has a live
// weak reference to, ordered by ID. Stale entries (cells with no
// remaining strong references) are dropped lazily as they are found.
func (c *Coordinator) Cells() []CellInfo {
	c.cellsMu.Lock()
	ids := make([]CellID, 0, len(c.cells))
	for id := range c.cells {
		ids = append(ids, id)
	}
	c.cellsMu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]CellInfo, 0, len(ids))
	var dead []CellID
	for _, id := range ids {
		c.cellsMu.Lock()
		wp, ok := c.cells[id]
		c.cellsMu.Unlock()
		if !ok {
			continue
		}
		cell := wp.Value()
		if cell == nil {
			dead = append(dead, id)
			continue
		}
		out = append(out, CellInfo{
			ID:           cell.ID(),
			Current:      cell.Get(),
			Previous:     cell.Previous(),
			MemberCount:  cell.MemberCount(),
			CreationTime: cell.CreationTime(),
		})
	}

	if len(dead) > 0 {
		c.cellsMu.Lock()
		for _, id := range dead {
			delete(c.cells, id)
		}
		c.cellsMu.Unlock()
	}
	return out
}

// CellCount returns the number of live cells, per Cells().
func (c *Coordinator) CellCount() int { return len(c.Cells()) }

// DescribeCells renders the coordinator's live cells as a slice of
// one-line descriptions, ID ascending. It exists for tests and ad hoc
// debugging, the same job the teacher's debug.go does for its vnode tree.
func DescribeCells(c *Coordinator) []string {
	infos := c.Cells()
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = fmt.Sprintf("cell#%d = %v (prev %v, %d member(s))", info.ID, info.Current, info.Previous, info.MemberCount)
	}
	return out
}

// SprintCells renders DescribeCells joined with newlines, for use in test
// failure messages and REPL-style inspection.
func SprintCells(c *Coordinator) string {
	return strings.Join(DescribeCells(c), "\n")
}

// FprintCells writes SprintCells's output to w, terminated with a
// trailing newline if there was any output at all.
func FprintCells(w io.Writer, c *Coordinator) error {
	s := SprintCells(c)
	if s == "" {
		return nil
	}
	_, err := io.WriteString(w, s+"\n")
	return err
}
