// Package cid generates and validates request identifiers (cid): the
// queue filename and HMAC message shared by the submitter and the
// executor daemon.
package cid

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// pattern matches a well-formed cid: YYYYMMDD-HHMMSS-PID-XXXXXXXX.
var pattern = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}-[0-9]+-[0-9a-f]{8}$`)

// New generates a globally-unique request identifier. The trailing 8 hex
// digits are drawn from the first 4 bytes of a version-4 UUID, which pulls
// its entropy from crypto/rand: 32 random bits on top of the timestamp and
// PID, the same amount a plain crypto/rand draw of 8 hex digits gives.
func New() string {
	now := time.Now()
	u := uuid.New()
	return fmt.Sprintf("%s-%d-%02x%02x%02x%02x",
		now.Format("20060102-150405"), os.Getpid(), u[0], u[1], u[2], u[3])
}

// Valid reports whether s has the well-formed cid shape. Both sides use
// this before treating a filename as a cid, since cids become filenames
// and must never be used to escape their containing directory.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
