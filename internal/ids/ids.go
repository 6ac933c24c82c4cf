package ids

import (
	"crypto/rand"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

const regCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const regCodeLength = 10

// RegistrationCode returns a 10-character organization join code.
// Codes end up in registration links, so the alphabet stays uppercase
// alphanumeric.
func RegistrationCode() string {
	var raw [regCodeLength]byte
	_, _ = rand.Read(raw[:])
	buf := make([]byte, regCodeLength)
	for i, b := range raw {
		buf[i] = regCodeAlphabet[int(b)%len(regCodeAlphabet)]
	}
	return string(buf)
}
