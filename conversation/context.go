package conversation

// Global marker symbols tag a context.Context rather than living on any
// particular struct: double-install and recursive-install both need to be
// detectable across an arbitrary middleware chain, including chains this
// package never sees directly, which only a context value can reach. The
// completeness marker (§4.F.8) is local to one Active and lives on that
// struct instead (see Active.complete) — nothing outside this package's own
// call tree ever needs to observe it.
type markerKey int

const (
	markerInstalled markerKey = iota
	markerRecursion
)
