package datetime

import "fmt"

// UnresolvedDateError reports a phrase with no recognizable temporal anchor.
type UnresolvedDateError struct {
	Phrase string
}

func (e *UnresolvedDateError) Error() string {
	return fmt.Sprintf("could not resolve date from %q", e.Phrase)
}
