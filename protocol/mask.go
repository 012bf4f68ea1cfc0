package protocol

// MaskBytes XORs buf in place with key, starting at key position offset%4.
// Applying it twice with the same key and offset restores the input.
func MaskBytes(buf []byte, key [4]byte, offset int) {
	for i := range buf {
		buf[i] ^= key[(offset+i)&3]
	}
}
