package pbwire

import (
	"fmt"
	"strings"

	"github.com/danderson/pbwire/fragments"
)

// DataFormat selects how an integer member is represented on the
// wire. Floats, bools, strings and messages ignore it.
type DataFormat = fragments.Format

const (
	FormatDefault        = fragments.FormatDefault
	FormatZigZag         = fragments.FormatZigZag
	FormatTwosComplement = fragments.FormatTwosComplement
	FormatFixedSize      = fragments.FormatFixedSize
)

// ParseDataFormat returns the DataFormat with the given name, as
// printed by its String method. "fixed32" and "fixed64" are accepted
// as aliases for "fixed".
func ParseDataFormat(s string) (DataFormat, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return FormatDefault, nil
	case "zigzag":
		return FormatZigZag, nil
	case "twoscomplement":
		return FormatTwosComplement, nil
	case "fixed", "fixed32", "fixed64":
		return FormatFixedSize, nil
	}
	return 0, fmt.Errorf("unknown data format %q", s)
}

// ValueFormat selects the framing of message, pointer and interface
// values.
type ValueFormat uint8

const (
	// ValueNotSpecified defers to the enclosing level or the model
	// default, which is ValueCompact.
	ValueNotSpecified ValueFormat = iota
	// ValueCompact is plain protobuf framing. Nil values cannot
	// appear inside collections.
	ValueCompact
	// ValueReference wraps values so that repeated references to the
	// same object are written once, and cycles survive a round trip.
	ValueReference
	// ValueMinimalEnhancement wraps values so that nil collection
	// elements survive a round trip, without reference tracking.
	ValueMinimalEnhancement
)

func (f ValueFormat) String() string {
	switch f {
	case ValueNotSpecified:
		return "notspecified"
	case ValueCompact:
		return "compact"
	case ValueReference:
		return "reference"
	case ValueMinimalEnhancement:
		return "enhanced"
	default:
		return fmt.Sprintf("ValueFormat(%d)", uint8(f))
	}
}

// ParseValueFormat returns the ValueFormat with the given name.
func ParseValueFormat(s string) (ValueFormat, error) {
	switch strings.ToLower(s) {
	case "", "notspecified":
		return ValueNotSpecified, nil
	case "compact":
		return ValueCompact, nil
	case "reference", "ref":
		return ValueReference, nil
	case "enhanced", "minimalenhancement":
		return ValueMinimalEnhancement, nil
	}
	return 0, fmt.Errorf("unknown value format %q", s)
}

// wrapped reports whether values in format f are framed in a wrapper
// message.
func (f ValueFormat) wrapped() bool {
	return f == ValueReference || f == ValueMinimalEnhancement
}

// CollectionFormat selects how collection elements are framed.
type CollectionFormat uint8

const (
	// CollectionNotSpecified writes one field per element, like
	// CollectionRepeated.
	CollectionNotSpecified CollectionFormat = iota
	// CollectionRepeated writes one field per element.
	CollectionRepeated
	// CollectionPacked writes packable scalar elements as a single
	// length-delimited field. Elements that cannot be packed are
	// written as CollectionRepeated.
	CollectionPacked
)

func (f CollectionFormat) String() string {
	switch f {
	case CollectionNotSpecified:
		return "notspecified"
	case CollectionRepeated:
		return "repeated"
	case CollectionPacked:
		return "packed"
	default:
		return fmt.Sprintf("CollectionFormat(%d)", uint8(f))
	}
}

// ParseCollectionFormat returns the CollectionFormat with the given
// name.
func ParseCollectionFormat(s string) (CollectionFormat, error) {
	switch strings.ToLower(s) {
	case "", "notspecified":
		return CollectionNotSpecified, nil
	case "repeated":
		return CollectionRepeated, nil
	case "packed":
		return CollectionPacked, nil
	}
	return 0, fmt.Errorf("unknown collection format %q", s)
}

// ImplicitFields selects whether and how members without explicit
// configuration are mapped.
type ImplicitFields uint8

const (
	// ImplicitNone maps only explicitly configured members.
	ImplicitNone ImplicitFields = iota
	// ImplicitDeclared maps exported fields in declaration order.
	ImplicitDeclared
	// ImplicitAlphabetical maps exported fields in name order.
	ImplicitAlphabetical
)

func (f ImplicitFields) String() string {
	switch f {
	case ImplicitNone:
		return "none"
	case ImplicitDeclared:
		return "declared"
	case ImplicitAlphabetical:
		return "alphabetical"
	default:
		return fmt.Sprintf("ImplicitFields(%d)", uint8(f))
	}
}

// ParseImplicitFields returns the ImplicitFields mode with the given
// name.
func ParseImplicitFields(s string) (ImplicitFields, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ImplicitNone, nil
	case "declared", "public":
		return ImplicitDeclared, nil
	case "alphabetical":
		return ImplicitAlphabetical, nil
	}
	return 0, fmt.Errorf("unknown implicit fields mode %q", s)
}
