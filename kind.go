package diver

import (
	"fmt"
	"strings"
)

// Kind represents the machine type of a value.
type Kind int

const (
	KindInvalid = Kind(iota)
	KindBool
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
)

var kinds = [...]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindByte:    "byte",
	KindChar:    "char",
	KindShort:   "short",
	KindInt:     "int",
	KindLong:    "long",
	KindFloat:   "float",
	KindDouble:  "double",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if k >= 0 && k < Kind(len(kinds)) {
		return kinds[k]
	}
	return fmt.Sprintf("Kind<%d>", k)
}

// ParseKind returns the kind with the given name.
func ParseKind(s string) (Kind, error) {
	for i, name := range kinds {
		if i != int(KindInvalid) && strings.EqualFold(s, name) {
			return Kind(i), nil
		}
	}
	return KindInvalid, fmt.Errorf("diver: unknown kind: %q", s)
}

// Width returns the bit width of values of the kind.
func (k Kind) Width() uint {
	switch k {
	case KindBool:
		return WidthBool
	case KindByte:
		return Width8
	case KindChar, KindShort:
		return Width16
	case KindInt, KindFloat:
		return Width32
	case KindLong, KindDouble:
		return Width64
	default:
		panic(fmt.Sprintf("diver: invalid kind: %d", k))
	}
}

// IsFloat returns true if the kind is an IEEE floating-point type.
func (k Kind) IsFloat() bool { return k == KindFloat || k == KindDouble }

// IsIntegral returns true for the bit-vector kinds other than bool.
func (k Kind) IsIntegral() bool {
	switch k {
	case KindByte, KindChar, KindShort, KindInt, KindLong:
		return true
	default:
		return false
	}
}

// IsSigned returns true if integral values of the kind are two's complement.
// Char is the only unsigned integral kind.
func (k Kind) IsSigned() bool { return k.IsIntegral() && k != KindChar }
