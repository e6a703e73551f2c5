package crypto

import "golang.org/x/crypto/blake2b"

// Hash32 is the 32-byte Blake2b-class digest used for block hashes and
// state commitments. x/crypto/blake2b is the same module the teacher
// already pulls in for its Keccak/sha3 hashing, swapped to the
// Blake2b-256 subpackage.
type Hash32 [32]byte

// HashBytes computes the Blake2b-256 digest of data.
func HashBytes(data []byte) Hash32 {
	return blake2b.Sum256(data)
}

func (h Hash32) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// IsZero reports whether h is the zero hash (the parent hash a genesis
// block carries).
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}
