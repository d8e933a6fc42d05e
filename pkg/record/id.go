package record

import (
	"strconv"
	"sync"
	"time"
)

var (
	idMu   sync.Mutex
	lastID int64
)

// NewLocalID returns an id for a record created while the remote store
// is unreachable. Ids are millisecond timestamps, bumped when two calls
// land in the same millisecond so they stay unique and increasing.
func NewLocalID() string {
	idMu.Lock()
	defer idMu.Unlock()

	id := time.Now().UnixMilli()
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return strconv.FormatInt(id, 10)
}
