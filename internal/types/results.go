package types

// AllocOutcome is the informational tag on a successful allocation. It is a
// separate branch from errors so a caller cannot mistake a deliberate
// Horizon redirect for a failure, or vice versa.
type AllocOutcome uint8

const (
	// AllocPlaced means the ballistic allocator claimed a trajectory
	// candidate.
	AllocPlaced AllocOutcome = iota

	// AllocRedirected means the request was served by the Horizon ring,
	// either as fallback after ballistic exhaustion or as deliberate
	// load-shedding under saturation.
	AllocRedirected
)

// AllocResult is the success/info side of an allocation. Addr is the
// physical block address; Retry is the winning retry index (RetryHorizon for
// redirected allocations) and is persisted in the anchor.
type AllocResult struct {
	Addr    Paddr
	Retry   RetryIndex
	Outcome AllocOutcome

	// Healed reports that a correctable bitmap fault was repaired while
	// serving this request.
	Healed bool
}

// ReadResult is the success/info side of a verified read.
type ReadResult struct {
	// Bytes is the number of payload bytes copied into the caller's
	// buffer. Zero when Sparse.
	Bytes int

	// Sparse reports legitimate absence: the block was never written.
	// It is an informational outcome, not an error.
	Sparse bool

	// Healed reports that a damaged earlier candidate was repaired in
	// place after a later candidate validated.
	Healed bool

	// Retry is the retry index of the candidate that validated.
	Retry RetryIndex
}
