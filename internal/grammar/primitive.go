// Package grammar defines structural message templates and walks their
// mutation cases one field at a time.
package grammar

import "bytes"

// Primitive is one field of a template.
type Primitive interface {
	// Name identifies the field in logs.
	Name() string
	// Value is the field's well-formed rendering.
	Value() []byte
	// Mutations lists replacement values tried for the field. Empty for
	// fields that are never fuzzed.
	Mutations() [][]byte
}

// Static is a fixed field that is never mutated.
type Static struct {
	Label string
	Data  []byte
}

func (s Static) Name() string        { return s.Label }
func (s Static) Value() []byte       { return s.Data }
func (s Static) Mutations() [][]byte { return nil }

// Delim is a separator. Mutations omit, repeat and substitute it.
type Delim struct {
	Label string
	Data  []byte
}

func (d Delim) Name() string  { return d.Label }
func (d Delim) Value() []byte { return d.Data }

func (d Delim) Mutations() [][]byte {
	out := [][]byte{
		{},
		bytes.Repeat(d.Data, 2),
		bytes.Repeat(d.Data, 10),
		bytes.Repeat(d.Data, 100),
		bytes.Repeat(d.Data, 1000),
	}
	for _, alt := range delimiters {
		if !bytes.Equal(alt, d.Data) {
			out = append(out, alt)
		}
	}
	return out
}

// String is a free-form text field.
type String struct {
	Label string
	Data  []byte
}

func (s String) Name() string  { return s.Label }
func (s String) Value() []byte { return s.Data }

func (s String) Mutations() [][]byte {
	out := make([][]byte, 0, len(stringLibrary)+len(longLengths)+3)
	out = append(out, []byte{})
	for _, v := range stringLibrary {
		out = append(out, []byte(v))
	}
	for _, n := range longLengths {
		out = append(out, bytes.Repeat([]byte{'A'}, n))
	}
	// Default value with junk appended and repeated
	out = append(out, append(append([]byte(nil), s.Data...), 0x00, 0xff))
	out = append(out, bytes.Repeat(s.Data, 256))
	return out
}

var delimiters = [][]byte{
	[]byte(" "), []byte("\t"), []byte("\r\n"), []byte("\n"), []byte(":"),
	[]byte("/"), []byte("="), []byte(";"), []byte(","), []byte("\x00"),
}

var longLengths = []int{128, 255, 256, 257, 511, 512, 513, 1023, 1024, 1025, 2048, 4096, 10000}

var stringLibrary = []string{
	"%s%s%s%s%s",
	"%n%n%n%n%n",
	"%x%x%x%x",
	"%99999999999s",
	"../../../../../../etc/passwd",
	"..\\..\\..\\..\\windows\\win.ini",
	"/.:/" + string(bytes.Repeat([]byte{'A'}, 5000)) + "\x00\x00",
	"'",
	"\"",
	"<>",
	"|id",
	";id",
	"`id`",
	"$(id)",
	"\x00",
	"\r\n\r\n",
	"\xff\xfe",
	"\xc3\x28",
	"-1",
	"4294967296",
}
