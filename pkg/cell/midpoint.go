package cell

import "bytes"

// Midpoint returns a separator cell K with left <= K <= right under cmp,
// preferring the shortest row/family/qualifier bytes that still satisfy the
// bound. Index blocks store K instead of a real key to stay small.
//
// Only row, family and qualifier are ever shortened; timestamp and type are
// fixed-width so when all three byte fields match, right is returned as-is.
// Comparators that report Shortenable()==false always get right back.
func Midpoint(cmp Comparator, left, right *Cell) *Cell {
	if left == nil {
		return right
	}
	if cmp.Compare(left, right) > 0 {
		// Callers append in order, so this is a programming error upstream;
		// fall back to the safe choice.
		return right
	}
	if !cmp.Shortenable() {
		return right
	}

	if !bytes.Equal(left.Row, right.Row) {
		mid := shortestSeparator(left.Row, right.Row)
		if mid == nil || len(mid) > len(right.Row) {
			return right
		}
		return FirstOnRow(mid, nil, nil)
	}
	if !bytes.Equal(left.Family, right.Family) {
		mid := shortestSeparator(left.Family, right.Family)
		if mid == nil || len(mid) > len(right.Family) {
			return right
		}
		return FirstOnRow(right.Row, mid, nil)
	}
	if !bytes.Equal(left.Qualifier, right.Qualifier) {
		mid := shortestSeparator(left.Qualifier, right.Qualifier)
		if mid == nil || len(mid) > len(right.Qualifier) {
			return right
		}
		return FirstOnRow(right.Row, right.Family, mid)
	}
	// Same row, family and qualifier: only fixed-width fields differ.
	return right
}

// shortestSeparator finds the shortest byte string s with left < s <= right,
// assuming left < right lexicographically. Returns nil when no shorter form
// than right exists.
func shortestSeparator(left, right []byte) []byte {
	minLen := len(left)
	if len(right) < minLen {
		minLen = len(right)
	}
	diff := 0
	for diff < minLen && left[diff] == right[diff] {
		diff++
	}

	if diff >= minLen {
		// left is a strict prefix of right: keep one extra byte of right.
		if len(right) > diff {
			sep := make([]byte, diff+1)
			copy(sep, right[:diff+1])
			return sep
		}
		return nil
	}

	if left[diff] < 0xff && left[diff]+1 < right[diff] {
		// Truncate left at the differing byte and bump it.
		sep := make([]byte, diff+1)
		copy(sep, left[:diff+1])
		sep[diff]++
		return sep
	}
	// Bumping would reach or pass right's byte: truncate right instead.
	sep := make([]byte, diff+1)
	copy(sep, right[:diff+1])
	return sep
}
