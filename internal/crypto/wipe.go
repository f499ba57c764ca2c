package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe zeroes key material and passphrase-derived buffers once they are no
// longer needed.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
		runtime.KeepAlive(b)
	}
}
