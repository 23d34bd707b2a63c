// Package meeting derives the room identifiers handed to the external video
// transport. The identifier is opaque to this system; it only has to be
// unique across distinct accept calls without external coordination.
package meeting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provisioner derives a room identifier for an accepted request. It is
// called exactly once per successful accept, inside the same logical
// operation that flips the row to accepted.
type Provisioner func(requestID string) string

// Provision builds a room id from the request id, the current unix
// milliseconds, and a short random suffix. The suffix covers repeated accept
// attempts landing in the same millisecond and restarts with a skewed clock.
func Provision(requestID string) string {
	return fmt.Sprintf("tutorlink-%s-%d-%s", requestID, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Fixed returns a Provisioner that always yields roomID. Test seam only.
func Fixed(roomID string) Provisioner {
	return func(string) string { return roomID }
}

var _ Provisioner = Provision
