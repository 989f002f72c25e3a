package chatcmd

import (
	"fmt"
	"strings"
)

// Param describes one positional parameter of a command's usage string.
type Param struct {
	Name     string
	Required bool
	Rest     bool // consumes and joins all remaining tokens
}

// Command is one entry of the dispatcher's command table.
type Command struct {
	Name    string
	Usage   string
	Summary string
	Params  []Param
	Handler func(ctx *Context, args map[string]string) (string, error)
}

// ParseUsage parses a usage string of the form `name <required> [optional]
// [rest...]` into a command name and its parameter list, enforcing that
// every required parameter precedes every optional one and that a rest
// parameter (`name...`), if present, is the last one declared (§4.7).
func ParseUsage(usage string) (name string, params []Param, err error) {
	tokens := strings.Fields(usage)
	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("empty usage string")
	}
	name = tokens[0]
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", nil, fmt.Errorf("invalid command name %q", name)
	}

	sawOptional := false
	for i, tok := range tokens[1:] {
		p, err := parseParamToken(tok)
		if err != nil {
			return "", nil, fmt.Errorf("usage %q: %w", usage, err)
		}
		if p.Rest && i != len(tokens)-2 {
			return "", nil, fmt.Errorf("usage %q: rest parameter %q must be last", usage, p.Name)
		}
		if p.Required && sawOptional {
			return "", nil, fmt.Errorf("usage %q: required parameter %q follows an optional one", usage, p.Name)
		}
		if !p.Required {
			sawOptional = true
		}
		params = append(params, p)
	}
	return name, params, nil
}

func parseParamToken(tok string) (Param, error) {
	var p Param
	switch {
	case strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"):
		p.Required = true
		p.Name = tok[1 : len(tok)-1]
	case strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]"):
		p.Required = false
		p.Name = tok[1 : len(tok)-1]
	default:
		return Param{}, fmt.Errorf("malformed parameter token %q", tok)
	}
	if strings.HasSuffix(p.Name, "...") {
		p.Rest = true
		p.Name = strings.TrimSuffix(p.Name, "...")
	}
	if p.Name == "" {
		return Param{}, fmt.Errorf("parameter has no name")
	}
	return p, nil
}
