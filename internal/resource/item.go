// Package resource implements the ResourceManager described in spec §3 and
// §4.1: a pool of indivisible work items, each handed out at most
// the runtime parallel_attempts setting times concurrently, tracked through
// {pending, allocated, done}.
package resource

// Status is an item's lifecycle state.
type Status int

const (
	Pending Status = iota
	Allocated
	Done
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Allocated:
		return "allocated"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Item is one allocatable unit. Reduce items (an IdItem in the original)
// only use No/Attempt/Status/Allocated; map items also carry the input
// range, filled in by the byte-range or line-count splitter.
type Item struct {
	No        int
	Attempt   int
	Status    Status
	Allocated int

	// Map-only fields. Zero for reduce items.
	InputFile string
	Offset    int64
	Length    int64
	StartLine int64
	LineCount int64
}
