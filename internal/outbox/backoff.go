package outbox

import "github.com/nextmed-labs/trustledger/pkg/idgen"

// backoffDelayMs is base*2^attempts plus a jitter in [0, jitterMs).
func backoffDelayMs(base int64, attempts int, jitterMs int64, rnd idgen.Random) int64 {
	delay := base << uint(attempts)
	if jitterMs > 0 {
		delay += rnd.Int63n(jitterMs)
	}
	return delay
}
