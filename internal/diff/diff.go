// Package diff computes the minimal edit sequence between two canonical
// message arrays and applies it to a third. Equality is the Similar
// predicate, not struct equality, so volatile fields (timestamps, token
// usage, store provenance) never produce spurious operations.
package diff

import (
	"fmt"

	"github.com/iksnae/session-bridge/internal/canon"
)

// OpType is the kind of a single edit.
type OpType string

const (
	OpAdd    OpType = "add"
	OpRemove OpType = "remove"
	OpModify OpType = "modify"
)

// Operation is one edit against the target array. Index is positional at
// application time: operations are emitted in ascending application order so
// sequential Apply never re-indexes.
type Operation struct {
	Type       OpType
	Index      int
	Message    *canon.Message // populated for add and modify
	OldMessage *canon.Message // populated for remove and modify
}

// Result is the outcome of Compute.
type Result struct {
	Operations []Operation
	HasChanges bool
}

// Similar reports whether two messages represent the same logical turn:
// identical id, or equal role, type, and content. Timestamps, token usage,
// and all other metadata are volatile and ignored.
func Similar(a, b canon.Message) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return equivalent(a, b)
}

// equivalent is similarity without the id shortcut. A pair that is Similar
// only through a shared id is an in-place edit and surfaces as a modify.
func equivalent(a, b canon.Message) bool {
	return a.Role == b.Role && a.Type == b.Type && canon.ContentEqual(a.Content, b.Content)
}

// Compute returns the shortest edit script transforming before into after,
// using the Myers O(ND) algorithm over the Similar predicate.
func Compute(before, after []canon.Message) Result {
	edits := shortestEdits(before, after)

	var ops []Operation
	pos := 0
	for i := 0; i < len(edits); i++ {
		e := edits[i]
		switch e.kind {
		case editKeep:
			b, a := before[e.bi], after[e.ai]
			if !equivalent(b, a) {
				// Same id, changed content: last writer wins.
				ops = append(ops, Operation{Type: OpModify, Index: pos, Message: clone(a), OldMessage: clone(b)})
			}
			pos++
		case editDelete:
			if i+1 < len(edits) && edits[i+1].kind == editInsert {
				ops = append(ops, Operation{
					Type:       OpModify,
					Index:      pos,
					Message:    clone(after[edits[i+1].ai]),
					OldMessage: clone(before[e.bi]),
				})
				pos++
				i++
				continue
			}
			ops = append(ops, Operation{Type: OpRemove, Index: pos, OldMessage: clone(before[e.bi])})
		case editInsert:
			ops = append(ops, Operation{Type: OpAdd, Index: pos, Message: clone(after[e.ai])})
			pos++
		}
	}

	return Result{Operations: ops, HasChanges: len(ops) > 0}
}

// Apply executes the operations against messages and returns the resulting
// array. The input slice is not mutated. An empty operation set returns a
// copy of the input unchanged.
func Apply(messages []canon.Message, ops []Operation) ([]canon.Message, error) {
	out := make([]canon.Message, len(messages))
	copy(out, messages)

	for _, op := range ops {
		switch op.Type {
		case OpAdd:
			if op.Message == nil {
				return nil, fmt.Errorf("add operation at index %d has no message", op.Index)
			}
			if op.Index < 0 || op.Index > len(out) {
				return nil, fmt.Errorf("add index %d out of range (len %d)", op.Index, len(out))
			}
			out = append(out, canon.Message{})
			copy(out[op.Index+1:], out[op.Index:])
			out[op.Index] = op.Message.Clone()
		case OpRemove:
			if op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("remove index %d out of range (len %d)", op.Index, len(out))
			}
			out = append(out[:op.Index], out[op.Index+1:]...)
		case OpModify:
			if op.Message == nil {
				return nil, fmt.Errorf("modify operation at index %d has no message", op.Index)
			}
			if op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("modify index %d out of range (len %d)", op.Index, len(out))
			}
			out[op.Index] = op.Message.Clone()
		default:
			return nil, fmt.Errorf("unknown operation type %q", op.Type)
		}
	}
	return out, nil
}

// CountAdds returns how many operations insert a new message. The engine
// reports this as "items synced".
func CountAdds(ops []Operation) int {
	n := 0
	for _, op := range ops {
		if op.Type == OpAdd {
			n++
		}
	}
	return n
}

func clone(m canon.Message) *canon.Message {
	c := m.Clone()
	return &c
}

type editKind int

const (
	editKeep editKind = iota
	editDelete
	editInsert
)

// edit is one primitive move in the edit script, in forward order.
// bi/ai index into before/after for the kinds that reference them.
type edit struct {
	kind editKind
	bi   int
	ai   int
}

// shortestEdits runs the Myers greedy forward search and backtracks the
// recorded furthest-reaching frontiers into a forward edit script.
func shortestEdits(before, after []canon.Message) []edit {
	n, m := len(before), len(after)
	max := n + m
	if max == 0 {
		return nil
	}
	offset := max

	v := make([]int, 2*max+1)
	var trace [][]int

	dFound := -1
search:
	for d := 0; d <= max; d++ {
		snapshot := make([]int, len(v))
		copy(snapshot, v)
		trace = append(trace, snapshot)

		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && Similar(before[x], after[y]) {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				dFound = d
				break search
			}
		}
	}

	// Backtrack from (n, m) through the recorded frontiers, collecting moves
	// in reverse.
	var reversed []edit
	x, y := n, m
	for d := dFound; d > 0; d-- {
		prev := trace[d]
		k := x - y
		var prevK int
		if k == -d || (k != d && prev[offset+k-1] < prev[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := prev[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			reversed = append(reversed, edit{kind: editKeep, bi: x - 1, ai: y - 1})
			x--
			y--
		}
		if x == prevX {
			reversed = append(reversed, edit{kind: editInsert, ai: y - 1})
			y--
		} else {
			reversed = append(reversed, edit{kind: editDelete, bi: x - 1})
			x--
		}
	}
	for x > 0 && y > 0 {
		reversed = append(reversed, edit{kind: editKeep, bi: x - 1, ai: y - 1})
		x--
		y--
	}

	edits := make([]edit, len(reversed))
	for i := range reversed {
		edits[i] = reversed[len(reversed)-1-i]
	}
	return edits
}
