package common

import "fmt"

// PositionKind identifies how a position token is to be ordered. Tokens are
// only comparable within the same kind; a source emits exactly one kind for
// its lifetime.
type PositionKind uint8

const (
	PositionNone      PositionKind = iota
	PositionLSN                    // log sequence number (redo-log style)
	PositionVersion                // change-tracking version counter
	PositionTimestamp              // unix-millisecond event time
)

func (k PositionKind) String() string {
	switch k {
	case PositionLSN:
		return "lsn"
	case PositionVersion:
		return "version"
	case PositionTimestamp:
		return "timestamp"
	default:
		return "none"
	}
}

// Position is a durable, resumable marker into a source change log.
type Position struct {
	Kind  PositionKind `msgpack:"kind"`
	Token uint64       `msgpack:"tok"`
}

// IsZero reports whether the position has never been set.
func (p Position) IsZero() bool {
	return p.Kind == PositionNone && p.Token == 0
}

// Compare orders two positions of the same kind. It returns -1, 0 or 1.
// Comparing positions of different kinds panics: that is a wiring bug, not
// a runtime condition.
func (p Position) Compare(other Position) int {
	if p.IsZero() || other.IsZero() {
		// The zero position sorts before everything.
		switch {
		case p.IsZero() && other.IsZero():
			return 0
		case p.IsZero():
			return -1
		default:
			return 1
		}
	}
	if p.Kind != other.Kind {
		panic(fmt.Sprintf("comparing %s position against %s position", p.Kind, other.Kind))
	}
	switch {
	case p.Token < other.Token:
		return -1
	case p.Token > other.Token:
		return 1
	default:
		return 0
	}
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.Token)
}
