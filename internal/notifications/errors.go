package notifications

import "fmt"

// Send operations.
const (
	OpPost   = "post"
	OpUpdate = "update"
)

// SendError is a failed post or update against the messaging provider.
// The index is left as it was, so the next event for the build retries.
type SendError struct {
	Op      string
	Channel string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s message to %s: %v", e.Op, e.Channel, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
