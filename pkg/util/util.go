// Package util holds small byte-level helpers shared across the jit
// package's binary layout code.
package util

// OctetArrayZeroPadding returns x padded with zero bytes so its length is
// a multiple of n. Used to word-align each region of a Compiled Code
// Object's packed layout.
func OctetArrayZeroPadding(x []byte, n int) []byte {
	length := len(x)
	paddingSize := (n - (length % n)) % n
	result := make([]byte, length+paddingSize)
	copy(result, x)
	return result
}
