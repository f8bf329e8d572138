// package fragments provides low-level encoding and decoding helpers
// to construct and parse protocol buffers wire format messages.
//
// The provided encoder and decoder are very low level, and do not
// encode any schema semantics. It is the caller's responsibility to
// produce well-formed messages using these tools: the encoder will
// happily emit a varint under a tag that claims to be Fixed64.
//
// You should not need to use this package at all, unless you are
// writing your own pbwire.Marshaler/pbwire.Unmarshaler
// implementations, in which case your code will be handed a
// [fragments.Encoder]/[fragments.Decoder] and expected to produce
// correct message fragments with it.
package fragments
