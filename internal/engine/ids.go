package engine

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// MaxItemRefLength keeps the longest identifier (acceptTrade with a platform room id,
// an item ref and an offer id) inside the 100 character component limit.
const MaxItemRefLength = 32

var refEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newRef returns a random 26 character id that is safe inside an action identifier.
func newRef() string {
	id := uuid.New()
	return strings.ToLower(refEncoding.EncodeToString(id[:]))
}
