// Package fragments provides low-level encoding and decoding helpers
// to produce and scan property list text.
//
// The provided encoder and decoder are very low level, and do not
// know anything about property list value types. It is the caller's
// responsibility to produce valid documents using these tools, and to
// enforce the grammar of each element when scanning one.
//
// You should not need to use this package at all, unless you are
// extending the plist package itself.
package fragments
