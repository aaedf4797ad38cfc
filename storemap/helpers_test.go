package storemap

import (
	"testing"

	"github.com/google/uuid"
)

// testPrefix returns a unique container prefix so tests sharing a store can
// never collide on storage keys.
func testPrefix(t *testing.T) []byte {
	t.Helper()
	id := uuid.New()
	return id[:4]
}
