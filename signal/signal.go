// Package signal defines the proposed-action value strategies emit.
package signal

import "time"

// Type distinguishes opening a new exposure from closing an existing one.
type Type string

const (
	Entry Type = "entry"
	Exit  Type = "exit"
)

// Direction is the market side a signal refers to. An exit signal's
// direction names the position being closed, not the order side used to
// close it.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Signal is a single proposed trading action for one instrument. Signals are
// immutable once produced; a strategy emits at most one per tick.
type Signal struct {
	Symbol     string
	Type       Type
	Direction  Direction
	Price      float64 // 0 means "use the market reference price"
	Confidence float64
	Reason     string
	Time       time.Time
}

// Valid reports whether the signal carries a usable type, direction, and
// symbol.
func (s Signal) Valid() bool {
	if s.Symbol == "" {
		return false
	}
	if s.Type != Entry && s.Type != Exit {
		return false
	}
	return s.Direction == Long || s.Direction == Short
}
