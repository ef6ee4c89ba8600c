package link

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadFormat      = errors.New("malformed format string")
)

// ParamType is the wire type of one command parameter
type ParamType uint8

const (
	ParamUint ParamType = iota
	ParamByte
	ParamBytes
)

// Param is one "name=%x" element of a format string
type Param struct {
	Name string
	Type ParamType
}

// Command is one dictionary entry. Its ID is its line number.
type Command struct {
	ID     uint16
	Name   string
	Format string
	Params []Param
}

// Dictionary maps command and response names to their wire IDs
type Dictionary struct {
	Raw      string
	Commands map[string]Command
	order    []string
}

// ParseDictionary parses the identify text: one "name format" line per
// ID, in ID order
func ParseDictionary(text string) (*Dictionary, error) {
	d := &Dictionary{
		Raw:      text,
		Commands: make(map[string]Command),
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		if line == "" {
			return nil, fmt.Errorf("line %d: empty entry: %w", i, ErrBadFormat)
		}
		name, format, _ := strings.Cut(line, " ")
		params, err := parseFormat(format)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		d.Commands[name] = Command{
			ID:     uint16(i),
			Name:   name,
			Format: format,
			Params: params,
		}
		d.order = append(d.order, name)
	}
	return d, nil
}

func parseFormat(format string) ([]Param, error) {
	var params []Param
	for _, field := range strings.Fields(format) {
		name, verb, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%q: %w", field, ErrBadFormat)
		}
		var typ ParamType
		switch verb {
		case "%u", "%i":
			typ = ParamUint
		case "%c":
			typ = ParamByte
		case "%*s":
			typ = ParamBytes
		default:
			return nil, fmt.Errorf("%q: unsupported verb %s: %w", field, verb, ErrBadFormat)
		}
		params = append(params, Param{Name: name, Type: typ})
	}
	return params, nil
}

// Lookup returns a command by name
func (d *Dictionary) Lookup(name string) (Command, error) {
	if d == nil {
		return Command{}, ErrNoDictionary
	}
	cmd, ok := d.Commands[name]
	if !ok {
		return Command{}, fmt.Errorf("%s: %w", name, ErrUnknownCommand)
	}
	return cmd, nil
}

// Names returns every entry in ID order
func (d *Dictionary) Names() []string {
	return append([]string(nil), d.order...)
}
