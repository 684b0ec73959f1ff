package ingest

// State is a phase of the ingestion loop:
// Idle -> FetchingHeight -> ScanningRange -> Sleeping -> FetchingHeight ...
type State int32

const (
	StateIdle State = iota
	StateFetchingHeight
	StateScanningRange
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingHeight:
		return "fetching_height"
	case StateScanningRange:
		return "scanning_range"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}
