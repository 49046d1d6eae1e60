package expr

import "strings"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// twoCharOps must be tried before their one-character prefixes.
var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||"}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '\'' || c == '"':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, s, i})
			i = next
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1]) && !afterOperand(toks)):
			j := i + 1
			dot := false
			for j < len(src) && (isDigit(src[j]) || (src[j] == '.' && !dot)) {
				dot = dot || src[j] == '.'
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j], i})
			i = j
		case isWordStart(rune(c)):
			j := i + 1
			for j < len(src) && isWordPart(rune(src[j])) {
				j++
			}
			toks = append(toks, token{tokWord, src[i:j], i})
			i = j
		default:
			op := ""
			for _, two := range twoCharOps {
				if strings.HasPrefix(src[i:], two) {
					op = two
					break
				}
			}
			if op == "" && strings.ContainsRune("<>!", rune(c)) {
				op = string(c)
			}
			if op == "" {
				return nil, &SyntaxError{Expr: src, Pos: i, Msg: "unexpected " + quoteChar(c)}
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

// lexString reads a quoted literal starting at src[start]. A backslash
// escapes the following character.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			if i+1 < len(src) {
				i++
				b.WriteByte(src[i])
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(src[i])
		}
	}
	return "", 0, &SyntaxError{Expr: src, Pos: start, Msg: "unterminated string"}
}

// afterOperand reports whether a '-' at this point would be binary minus
// rather than a sign. There is no arithmetic, so this only keeps "a-1"
// from lexing as two operands.
func afterOperand(toks []token) bool {
	if len(toks) == 0 {
		return false
	}
	switch toks[len(toks)-1].kind {
	case tokWord, tokNumber, tokString, tokRParen:
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Bytes of multi-byte UTF-8 sequences count as letters.
func isWordStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r >= 0x80
}

// Words may carry dots and digits so that paths like items.0.price are a
// single token.
func isWordPart(r rune) bool {
	return isWordStart(r) || (r >= '0' && r <= '9') || r == '.'
}

func quoteChar(c byte) string {
	return "'" + string(c) + "'"
}
