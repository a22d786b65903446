package channel

import "time"

// deadlineNow bounds the outgoing close-control-frame write so a wedged
// peer can't hang Close indefinitely.
func deadlineNow() time.Time {
	return time.Now().Add(time.Second)
}
