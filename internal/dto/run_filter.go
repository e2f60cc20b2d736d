// RunFilters describe user-provided filters to narrow the run history.
package dto

import "time"

type RunFilters struct {
	Source string
	Label  string
	After  time.Time
	Before time.Time
	Limit  int
	Offset int
}
