// Package chatcmd implements the in-room chat command dispatcher: tokenizing
// a player's chat line, matching it against a usage-string-described command
// table, binding parameters, and invoking the handler (§4.7).
package chatcmd

import "strings"

// Tokenize splits a chat line into tokens on ASCII spaces (other whitespace
// such as tabs stays inside a token), honoring single quotes as a toggle: a
// `'` begins or ends a quoted span in which spaces are literal, and the
// enclosing quotes are stripped from the resulting token. Runs of spaces
// produce no empty tokens;
// an empty quoted token ('') is kept, since it was explicit.
func Tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	haveToken := false

	flush := func() {
		if haveToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			haveToken = false
		}
	}

	for _, r := range line {
		switch {
		case r == '\'':
			inQuote = !inQuote
			haveToken = true
		case r == ' ' && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
			haveToken = true
		}
	}
	flush()
	return tokens
}
