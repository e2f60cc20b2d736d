// RunsData is a paginated response payload for the run history.
package dto

type RunsData struct {
	Runs        []RunInfo `json:"runs"`
	Length      int       `json:"length"`
	TotalPages  int       `json:"totalPages"`
	CurrentPage int       `json:"currentPage"`
	Limit       int       `json:"pageSize"`
}
