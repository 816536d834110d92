package realtime

import (
	"time"

	"parley/cmd/identity/ids"
)

// NewConnID returns a ULID used as websocket connection id. This is the
// key under which the connection's session snapshot lives in the cache;
// it is unrelated to the auth session id.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewServerMsgID returns a ULID used as server_msg_id.
// ULID keeps message IDs sortable for tracing and log correlation.
func NewServerMsgID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
