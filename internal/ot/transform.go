package ot

// Transform derives the bottom two sides of the OT diamond for two
// operations authored concurrently against the same base text. The first
// result is a adjusted to apply after b has been applied; the second is b
// adjusted to apply after a. Same-author pairs come back unchanged: the
// coordinator never interleaves one author's operations out of order, so
// they are never concurrent.
//
// Ties are broken deterministically so both call orders agree: the lower
// position wins; at equal positions an insert wins over a delete, and
// between two inserts the lower author id wins.
func Transform(a, b Operation) (Operation, Operation) {
	if a.Author == b.Author {
		return a, b
	}
	// Retains never reach the log; if one slips in, nothing shifts.
	if a.Type == OpRetain || b.Type == OpRetain {
		return a, b
	}
	switch a.Type {
	case OpInsert:
		switch b.Type {
		case OpInsert:
			return transformInsertInsert(a, b)
		case OpDelete:
			return transformInsertDelete(a, b)
		}
	case OpDelete:
		switch b.Type {
		case OpInsert:
			ins, del := transformInsertDelete(b, a)
			return del, ins
		case OpDelete:
			return transformDeleteDelete(a, b)
		}
	}
	return a, b
}

func transformInsertInsert(a, b Operation) (Operation, Operation) {
	// Equal positions fall to the author tie-break: the lower author id
	// keeps its position, the other shifts past the winner's text.
	aWins := a.Index < b.Index || (a.Index == b.Index && a.Author < b.Author)
	if aWins {
		b.Index += a.TextLen()
		return a, b
	}
	a.Index += b.TextLen()
	return a, b
}

func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	switch {
	case ins.Index <= del.Index:
		// Insertion at or before the deleted range: the delete shifts right.
		del.Index += ins.TextLen()
		return ins, del
	case ins.Index >= del.end():
		// Insertion past the deleted range: the insert shifts left.
		ins.Index -= del.Length
		return ins, del
	default:
		// Insertion inside the deleted range: the delete widens to absorb
		// the inserted text and the insert collapses at the delete's start.
		// Keeping the text on one side of the diamond would diverge from the
		// widened delete on the other, so both sides drop it.
		del.Length += ins.TextLen()
		ins.Index = del.Index
		ins.Text = ""
		return ins, del
	}
}

func transformDeleteDelete(a, b Operation) (Operation, Operation) {
	aEnd, bEnd := a.end(), b.end()
	switch {
	case aEnd <= b.Index:
		b.Index -= a.Length
		return a, b
	case bEnd <= a.Index:
		a.Index -= b.Length
		return a, b
	default:
		// Overlapping ranges: each keeps only its non-shared part and the
		// later delete collapses onto the earlier one's start.
		overlap := min(aEnd, bEnd) - max(a.Index, b.Index)
		pos := min(a.Index, b.Index)
		a.Index, a.Length = pos, a.Length-overlap
		b.Index, b.Length = pos, b.Length-overlap
		return a, b
	}
}
