package relay

import (
	"crypto/rand"
	"io"
)

const (
	idAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	idSuffixLen = 9

	// idByteLimit is the largest multiple of len(idAlphabet) that fits in a
	// byte. Bytes at or above it are discarded so every character is
	// equally likely.
	idByteLimit = 256 - 256%len(idAlphabet)
)

// newID returns prefix followed by a random base36 suffix. Issued IDs are
// not tracked, so the relay cannot validate them later.
func newID(prefix string) string {
	id, err := readID(rand.Reader, prefix)
	if err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	return id
}

func readID(src io.Reader, prefix string) (string, error) {
	out := make([]byte, 0, len(prefix)+idSuffixLen)
	out = append(out, prefix...)
	buf := make([]byte, idSuffixLen*2)
	for len(out) < cap(out) {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= idByteLimit {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == cap(out) {
				break
			}
		}
	}
	return string(out), nil
}

func newRequestID() string { return newID("req_") }

func newRoomID() string { return newID("room_") }
