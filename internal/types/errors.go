package types

import "fmt"

// ErrorKind classifies engine failures. Kinds are ordered by severity so
// probe loops can aggregate the most informative error across candidates: a
// real corruption must never be masked by a later benign "not found".
type ErrorKind uint8

const (
	// ErrNone is the zero kind; it never appears inside a returned error.
	ErrNone ErrorKind = iota

	// ErrSparse reports legitimate absence: no candidate held the block.
	ErrSparse

	// ErrOutOfSpace reports that both allocators are exhausted.
	ErrOutOfSpace

	// ErrAccessDenied reports a permission or encryption-capability
	// violation.
	ErrAccessDenied

	// ErrUnknownCompression reports a payload whose compression
	// algorithm field names no supported codec.
	ErrUnknownCompression

	// ErrGenerationSkew reports a block whose low 32 generation bits do
	// not match the anchor.
	ErrGenerationSkew

	// ErrOwnerMismatch reports a block owned by a different anchor.
	ErrOwnerMismatch

	// ErrGravityCollapse reports a non-default-scale allocation whose
	// every ballistic candidate was rejected; Horizon cannot serve
	// mismatched strides, so the request hard-fails.
	ErrGravityCollapse

	// ErrChecksum reports a header or payload checksum mismatch.
	ErrChecksum

	// ErrPoison reports the uninitialized-DMA poison pattern, detected
	// distinctly from generic corruption.
	ErrPoison

	// ErrCorruption reports an uncorrectable double-bit fault in an
	// armored word. The volume latches read-only.
	ErrCorruption

	// ErrGeometry reports an out-of-range block address or inconsistent
	// region boundaries. The volume latches read-only.
	ErrGeometry

	// ErrReadOnly reports a mutation attempted on a read-only or
	// panicked volume.
	ErrReadOnly
)

var errKindNames = map[ErrorKind]string{
	ErrSparse:             "sparse",
	ErrOutOfSpace:         "out of space",
	ErrAccessDenied:       "access denied",
	ErrUnknownCompression: "unknown compression algorithm",
	ErrGenerationSkew:     "generation skew",
	ErrOwnerMismatch:      "owner mismatch",
	ErrGravityCollapse:    "gravity collapse",
	ErrChecksum:           "checksum mismatch",
	ErrPoison:             "poisoned block",
	ErrCorruption:         "uncorrectable bitmap corruption",
	ErrGeometry:           "geometry fault",
	ErrReadOnly:           "volume is read-only",
}

func (k ErrorKind) String() string {
	if s, ok := errKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind %d", uint8(k))
}

// Fatal reports whether this kind latches the volume into the read-only
// panic state.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrCorruption, ErrGeometry, ErrPoison:
		return true
	}
	return false
}

// EngineError is the tagged hard-error branch of engine results. Callers
// branch on Kind; Detail carries context for logs and forensics.
type EngineError struct {
	Kind   ErrorKind
	Detail string
}

func (e *EngineError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is lets errors.Is match two engine errors by kind alone.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Kind == e.Kind
}

// NewError builds an EngineError with a formatted detail string.
func NewError(kind ErrorKind, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from an error, or ErrNone for nil or foreign
// errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrNone
	}
	if e, ok := err.(*EngineError); ok {
		return e.Kind
	}
	return ErrNone
}

// MoreSevere reports whether kind a outranks kind b when aggregating probe
// results. Higher kinds are defined in ascending severity order.
func MoreSevere(a, b ErrorKind) bool {
	return a > b
}
