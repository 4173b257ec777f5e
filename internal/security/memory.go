package security

// Wipe overwrites a byte slice with zeros.
//
// The compiler is not told this write is dead, and the slice header is not
// reallocated, so key material does not linger in the original buffer.
// Copies the runtime may have made elsewhere (stack growth, GC moves) are
// out of our hands.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// WipeAll wipes multiple byte slices.
func WipeAll(slices ...[]byte) {
	for _, s := range slices {
		Wipe(s)
	}
}
