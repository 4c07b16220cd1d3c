package sqlite

import "time"

func SetMessageClock(r *MessageRepo, now func() time.Time) {
	r.now = now
}
