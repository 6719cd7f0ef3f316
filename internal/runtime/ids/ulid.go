package ids

import (
	"crypto/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewJobKey returns the key assigned to a newly created job.
func NewJobKey() string {
	return CreateULID()
}

var hostname = os.Hostname

// WorkerName builds a default worker name from the host name and a ULID
// suffix so that two processes on one host stay distinguishable.
func WorkerName() string {
	host, err := hostname()
	if err != nil || host == "" {
		host = "jobflow"
	}
	id := CreateULID()
	return strings.ToLower(host + "-" + id[len(id)-8:])
}
