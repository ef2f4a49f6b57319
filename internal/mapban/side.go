package mapban

import "fmt"

// Side is one of the two parties in a lobby. The zero value is not a side.
type Side uint8

const (
	SideA Side = iota + 1
	SideB
)

func (s Side) Valid() bool { return s == SideA || s == SideB }

// Other returns the opposing side.
func (s Side) Other() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return 0
	}
}

func (s Side) String() string {
	switch s {
	case SideA:
		return "alpha"
	case SideB:
		return "bravo"
	default:
		return "unknown"
	}
}

func ParseSide(v string) (Side, error) {
	switch v {
	case "alpha", "a", "A":
		return SideA, nil
	case "bravo", "b", "B":
		return SideB, nil
	default:
		return 0, fmt.Errorf("unknown side %q", v)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
