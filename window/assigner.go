// Package window implements the windowing strategies of spec §4.11: a
// count window, a processing-time sliding window, and an event-time
// tumbling window, the last built on a pure timestamp-to-window assigner.
// Grounded in friggdb/util.go's bucket-by-interval helpers, generalized
// from "which block covers this trace's time range" to "which window
// covers this record's event time".
package window

// Window is a half-open event-time interval [Start, End).
type Window struct {
	Start int64
	End   int64
}

// Assigner is a pure function from an event timestamp to the windows it
// belongs to (spec §4.11: "Tumbling/Sliding window assigners: pure
// functions timestamp -> [(start, end)]").
type Assigner interface {
	Assign(ts int64) []Window
}
