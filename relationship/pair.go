package relationship

// Pair is an unordered user pair in canonical order: First < Second.
type Pair struct {
	First  string
	Second string
}

// NormalizePair orders x and y so the same two users always produce the same
// Pair regardless of argument order.
func NormalizePair(x, y string) (Pair, error) {
	if x == y {
		return Pair{}, ErrInvalidPair
	}
	if x < y {
		return Pair{First: x, Second: y}, nil
	}
	return Pair{First: y, Second: x}, nil
}

// Codes returns the friend codes for the pair positions, given the code of x
// and the code of y as passed to NormalizePair.
func (p Pair) Codes(x, codeX, codeY string) (first, second string) {
	if p.First == x {
		return codeX, codeY
	}
	return codeY, codeX
}
