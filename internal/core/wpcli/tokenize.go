package wpcli

import (
	"strings"
	"unicode"

	"github.com/melih/wpfleet/internal/core/domain"
)

// Tokenize splits a caller-supplied argument string into tokens.
//
// Whitespace separates tokens; single quotes, double quotes and backslash
// escapes group characters the way a shell would. Nothing else is special:
// ; | & $ ` < > and friends are kept as literal data and no expansion of
// any kind takes place.
func Tokenize(s string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)
	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range s {
		switch {
		case escaped:
			if quote == '"' && r != '"' && r != '\\' {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inToken = true
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, domain.Validationf("unterminated %c quote in arguments", quote)
	}
	if escaped {
		cur.WriteRune('\\')
	}
	flush()
	return tokens, nil
}
