// Package rand generates the request ids used to correlate websocket frames
// and the jitter applied to retry delays. None of it is security sensitive.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	bytesInUint64 = 8
	charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var charsetLen = len(charset)

var defaultSource = newSource()

type source struct {
	mut sync.Mutex
	rng *rand.Rand
}

func newSource() *source {
	seed := make([]byte, bytesInUint64*2)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &source{
		//nolint:gosec // no security required
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// NewRequestID returns a base62 string of the given length.
func NewRequestID(length int) string {
	buf := make([]byte, length)

	defaultSource.mut.Lock()
	for i := range buf {
		buf[i] = charset[defaultSource.rng.IntN(charsetLen)]
	}
	defaultSource.mut.Unlock()

	return string(buf)
}

// Float64 returns a pseudo-random number in [0.0, 1.0).
func Float64() float64 {
	defaultSource.mut.Lock()
	defer defaultSource.mut.Unlock()
	return defaultSource.rng.Float64()
}
