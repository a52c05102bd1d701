package wpcli

import "strings"

// Quote wraps s in single quotes so a POSIX shell reads it as one literal
// word. Embedded single quotes are closed, escaped and reopened.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// QuoteAll quotes every token and joins them with spaces. Tokenize reads
// the result back as the same tokens.
func QuoteAll(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = Quote(tok)
	}
	return strings.Join(quoted, " ")
}
