// Package pbwire encodes Go values in the protocol buffers wire
// format, without generated code.
//
// The encoding of a type is described by configuration attached to
// the type and its members, most commonly struct tags:
//
//	type Order struct {
//	    _     pbwire.Contract   `pb:"name=shop.Order"`
//	    ID    int64             `pb:"1"`
//	    Buyer string            `pb:"2"`
//	    Lines []Line            `pb:"3"`
//	    Notes map[string]string `pb:"4"`
//	}
//
//	type Line struct {
//	    SKU   string  `pb:"1"`
//	    Count uint32  `pb:"2"`
//	    Price float64 `pb:"3"`
//	}
//
// A [Model] resolves that configuration, through its [Source]s and
// handlers, into a [MetaType] per type, and builds serializers from
// the result. The resolved settings of a type can be inspected and
// adjusted with [Model.MetaType] until the type is first encoded or
// decoded, after which they are frozen.
//
// Encodings are compatible with other protobuf implementations:
// fields have their usual wire types, unknown fields are skipped when
// decoding, and repeated scalars are accepted both packed and
// unpacked. Beyond plain protobuf, pbwire can encode interface values
// through declared subtypes, preserve shared and cyclic references,
// and carry the type of dynamically typed values.
//
// The wire-level encoder and decoder are available in package
// [github.com/danderson/pbwire/fragments], for types that implement
// [Marshaler] and [Unmarshaler].
package pbwire
