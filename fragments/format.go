package fragments

import "fmt"

// Format is a text syntax for externalized values.
type Format uint8

const (
	// XML is the XML property list dialect.
	XML Format = iota
	// JSON is plain JSON. Not every value type can be represented
	// in JSON.
	JSON
)

func (f Format) String() string {
	switch f {
	case XML:
		return "xml"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// ParseFormat returns the Format named by s, as returned by
// [Format.String].
func ParseFormat(s string) (Format, error) {
	switch s {
	case "xml":
		return XML, nil
	case "json":
		return JSON, nil
	}
	return 0, fmt.Errorf("unknown format %q", s)
}
