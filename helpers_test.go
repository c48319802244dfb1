package plist_test

import (
	"os"
	"testing"

	"github.com/danderson/plist"
)

// mustFromGo converts x with plist.FromGo, failing the test on error.
// The returned value is released when the test completes.
func mustFromGo(t *testing.T, x any) plist.Value {
	t.Helper()
	ret, err := plist.FromGo(x)
	if err != nil {
		t.Fatalf("FromGo(%v) failed: %v", x, err)
	}
	t.Cleanup(func() { plist.Release(ret) })
	return ret
}

// mustInternalize parses doc, failing the test on error. The returned
// value is released when the test completes.
func mustInternalize(t *testing.T, doc string) plist.Value {
	t.Helper()
	ret, err := plist.Internalize([]byte(doc))
	if err != nil {
		t.Fatalf("Internalize(%q) failed: %v", doc, err)
	}
	t.Cleanup(func() { plist.Release(ret) })
	return ret
}

// xmlDoc wraps body in the standard XML document header and footer.
func xmlDoc(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n" +
		`<plist version="1.0">` + "\n" +
		body +
		"\n</plist>\n"
}

// sample is a dictionary exercising every value kind.
func sample(t *testing.T) plist.Value {
	return mustFromGo(t, map[string]any{
		"name":    "test & <check>",
		"enabled": true,
		"count":   int64(-3),
		"mask":    uint64(0xff),
		"blob":    []byte{0, 1, 2},
		"list":    []any{"a", int64(1), false},
		"nested": map[string]any{
			"empty":      []any{},
			"emptyDict":  map[string]any{},
			"emptyBlob":  []byte{},
			"emptyValue": "",
		},
	})
}

// countFDs returns the number of open file descriptors in the process.
func countFDs(t *testing.T) int {
	t.Helper()
	ents, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Fatalf("listing open files: %v", err)
	}
	return len(ents)
}
