// Package plist implements property lists: small trees of booleans,
// integers, strings, binary blobs, arrays and dictionaries, with a
// text form that can safely cross a privilege boundary.
//
// Values are reference counted. Every constructor returns a value
// with a count of 1, owned by the caller. [Retain] adds a reference,
// [Release] drops one, and the last Release frees whatever the value
// holds. Containers own references to their elements. This lets a
// value hold memory that the Go runtime does not manage, such as a
// mapping borrowed with [NewDataNoCopy], and give it back at a
// predictable time.
//
// [Externalize] renders a value as an XML property list or as JSON.
// [Internalize] parses XML property lists, and is hardened against
// hostile input: any malformed document is rejected as a whole,
// nesting depth is bounded, and no allocation is sized by untrusted
// input beyond what the input itself could produce.
//
// Documents cross process boundaries as a [transport.Ref]: see
// [NewRef], [FromRef], and the [Server] and [Client] types, which
// implement a request/reply service over a Unix socket with
// receiver-side size ceilings. [SaveFile] and [LoadFile] move
// documents to and from disk, with atomic replacement on save.
//
// The XML dialect is that of the DTD
// "-//Apple//DTD PLIST 1.0//EN", restricted to the element types
// above. Unsigned integers are written in hexadecimal, signed integers
// in decimal.
package plist
