package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs sort by creation time, which keeps
// event ids and attachment object keys in upload order.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
