package dictionary

import "fmt"

// UnknownChannelError reports a channel name missing from a dictionary,
// along with the names that would have been accepted.
type UnknownChannelError struct {
	Name  string
	Valid []string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel name: %q", e.Name)
}
