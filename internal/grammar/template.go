package grammar

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownTemplate is returned by Lookup for names not in the registry.
var ErrUnknownTemplate = errors.New("unknown grammar template")

// Template is an ordered list of fields forming one message.
type Template struct {
	Name   string
	Fields []Primitive
}

// Render concatenates the fields' well-formed values.
func (t Template) Render() []byte {
	return t.render(-1, nil)
}

func (t Template) render(field int, replacement []byte) []byte {
	var out []byte
	for i, p := range t.Fields {
		if i == field {
			out = append(out, replacement...)
			continue
		}
		out = append(out, p.Value()...)
	}
	return out
}

// Cases returns the number of single-field mutations the template yields.
func (t Template) Cases() int {
	n := 0
	for _, p := range t.Fields {
		n += len(p.Mutations())
	}
	return n
}

var registry = map[string]Template{
	"http": {
		Name: "http",
		Fields: []Primitive{
			Static{Label: "method", Data: []byte("GET")},
			Delim{Label: "sp1", Data: []byte(" ")},
			String{Label: "path", Data: []byte("/")},
			Delim{Label: "sp2", Data: []byte(" ")},
			Static{Label: "version", Data: []byte("HTTP/1.1")},
			Delim{Label: "crlf", Data: []byte("\r\n")},
			Static{Label: "host-key", Data: []byte("Host: ")},
			String{Label: "hosthdr", Data: []byte("dut")},
			Delim{Label: "end", Data: []byte("\r\n\r\n")},
		},
	},
	"ssh": {
		Name: "ssh",
		Fields: []Primitive{
			Static{Label: "prefix", Data: []byte("SSH-")},
			String{Label: "protoversion", Data: []byte("2.0")},
			Delim{Label: "dash", Data: []byte("-")},
			String{Label: "softwareversion", Data: []byte("OpenSSH_9.6")},
			Delim{Label: "crlf", Data: []byte("\r\n")},
		},
	},
	"ftp": {
		Name: "ftp",
		Fields: []Primitive{
			Static{Label: "user", Data: []byte("USER")},
			Delim{Label: "sp", Data: []byte(" ")},
			String{Label: "username", Data: []byte("anonymous")},
			Delim{Label: "crlf", Data: []byte("\r\n")},
		},
	},
}

// Lookup returns the named template.
func Lookup(name string) (Template, error) {
	t, ok := registry[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return t, nil
}

// Names lists the registered templates in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
