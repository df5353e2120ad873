// Package ids mints the opaque identifiers the gateway hands out for tasks
// and agent runs.
package ids

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns 128 bits of crypto/rand entropy as 32 hex characters.
func New() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("ids: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// Tagged prefixes a fresh id with a short type tag, as in "run_3fa9...".
// The tag makes ids self-describing in logs and client payloads.
func Tagged(tag string) string {
	return tag + "_" + New()
}
