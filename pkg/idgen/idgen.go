// Package idgen builds the short time-prefixed identifiers used for jobs and exports.
package idgen

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// SuffixLen is the number of random characters appended to an id.
const SuffixLen = 6

// Random is a source of bounded random integers. *rand.Rand satisfies it.
type Random interface {
	Int63n(n int64) int64
}

// Locked wraps a time-seeded *rand.Rand for concurrent use.
func Locked() Random {
	return &lockedRand{src: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

type lockedRand struct {
	mu  sync.Mutex
	src *rand.Rand
}

func (r *lockedRand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Int63n(n)
}

// Suffix returns n lowercase base36 characters.
func Suffix(rnd Random, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[rnd.Int63n(int64(len(alphabet)))]
	}
	return string(buf)
}

// New formats "<prefix>-<ms>-<suffix>".
func New(prefix string, nowMs int64, rnd Random) string {
	return fmt.Sprintf("%s-%d-%s", prefix, nowMs, Suffix(rnd, SuffixLen))
}
