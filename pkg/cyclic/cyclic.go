// Package cyclic implements wraparound comparisons for the unsigned 16-bit
// sequence numbers used throughout the networking core (packet acks,
// reliable-message IDs, in-order sequence IDs).
package cyclic

// GreaterThan reports whether a is cyclically newer than b, i.e.
// (a - b) mod 2^16 lies in (0, 2^15). This is the single predicate every
// other comparator in this package is built from.
func GreaterThan(a, b uint16) bool {
	diff := a - b
	return diff != 0 && diff < 0x8000
}

// LessThan reports whether a is cyclically older than b.
func LessThan(a, b uint16) bool {
	return GreaterThan(b, a)
}

// GreaterOrEqual reports whether a is cyclically newer than or equal to b.
func GreaterOrEqual(a, b uint16) bool {
	return a == b || GreaterThan(a, b)
}

// LessOrEqual reports whether a is cyclically older than or equal to b.
func LessOrEqual(a, b uint16) bool {
	return a == b || LessThan(a, b)
}

// Less adapts LessThan to the shape expected by sort.Slice and ordered
// containers keyed by a cyclic uint16 (acks, reliable IDs, sequence IDs).
func Less(a, b uint16) bool {
	return LessThan(a, b)
}
