package events

import (
	"encoding/hex"

	"github.com/pocketbridge/sync-core/internal/crypto"
)

// NewEventID returns a time-ordered 128-bit identifier (§4.4 step 4):
// a 48-bit unix-millisecond timestamp prefix (monotonic by creation time,
// per §3's event_id invariant) followed by 80 bits of secure randomness,
// hex-encoded. nowMillis is injected so callers control the clock.
func NewEventID(nowMillis int64) string {
	buf := make([]byte, 16)
	buf[0] = byte(nowMillis >> 40)
	buf[1] = byte(nowMillis >> 32)
	buf[2] = byte(nowMillis >> 24)
	buf[3] = byte(nowMillis >> 16)
	buf[4] = byte(nowMillis >> 8)
	buf[5] = byte(nowMillis)
	crypto.RandomBytes(buf[6:])
	return hex.EncodeToString(buf)
}
