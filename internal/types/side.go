// Package types holds small domain types shared across packages.
package types

// Side is the direction of a trade.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) String() string { return string(s) }

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}
