package sqlgen

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/schema"
)

// Keywords that mark a statement as something other than a plain read.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "REPLACE": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true,
	"ATTACH": true, "DETACH": true, "PRAGMA": true, "VACUUM": true,
	"REINDEX": true,
}

// Keywords a read-only statement may legitimately contain. Any other
// identifier must resolve to a table, alias, CTE name, or column of a
// referenced table.
var queryKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true,
	"NOT": true, "AS": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "OUTER": true, "CROSS": true, "NATURAL": true,
	"ON": true, "USING": true, "GROUP": true, "BY": true, "ORDER": true,
	"HAVING": true, "LIMIT": true, "OFFSET": true, "ASC": true, "DESC": true,
	"DISTINCT": true, "ALL": true, "WITH": true, "UNION": true, "EXCEPT": true,
	"INTERSECT": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"END": true, "IN": true, "IS": true, "NULL": true, "LIKE": true,
	"GLOB": true, "ESCAPE": true, "BETWEEN": true, "EXISTS": true,
	"COLLATE": true, "CAST": true, "NULLS": true, "FIRST": true, "LAST": true,
	"TRUE": true, "FALSE": true,
}

// ValidateQuery checks that sqlText is a single read-only statement touching
// only tables and columns known to the schema. Returns the referenced table
// names. Validation fails closed: anything the tokenizer cannot account for
// is rejected rather than passed through.
func ValidateQuery(sqlText string, info *schema.Info) ([]string, error) {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil, errors.ErrValidation("generated statement is empty")
	}

	// One statement only. A trailing semicolon is tolerated.
	trimmed = strings.TrimSuffix(trimmed, ";")
	if strings.Contains(trimmed, ";") {
		return nil, errors.ErrValidation("statement contains multiple statements")
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.ErrValidation("generated statement is empty")
	}

	head := strings.ToUpper(tokens[0])
	if head != "SELECT" && head != "WITH" {
		return nil, errors.ErrValidation(
			fmt.Sprintf("read statement must start with SELECT, got %s", tokens[0]))
	}

	var tables []string
	seen := map[string]bool{}
	cteNames := map[string]bool{}
	aliases := map[string]bool{}

	// First pass: forbidden keywords, table references, and the names that
	// are legal without being schema columns (CTE names and aliases).
	for i, tok := range tokens {
		upper := strings.ToUpper(tok)
		if forbiddenKeywords[upper] {
			return nil, errors.ErrValidation(
				fmt.Sprintf("statement contains forbidden keyword %s", upper))
		}

		// WITH name AS (...) introduces names that are not schema tables.
		if upper == "AS" && i >= 2 {
			if strings.ToUpper(tokens[i-2]) == "WITH" || tokens[i-2] == "," {
				cteNames[strings.ToLower(tokens[i-1])] = true
			}
		}
		// AS introduces a column/table alias (or a cast type); either way
		// the following identifier is not a column reference.
		if upper == "AS" && i+1 < len(tokens) && isIdentToken(tokens[i+1]) {
			aliases[strings.ToLower(tokens[i+1])] = true
		}
		// Subquery alias: ... ) name
		if tok == ")" && i+1 < len(tokens) {
			next := tokens[i+1]
			if isIdentToken(next) && !queryKeywords[strings.ToUpper(next)] {
				aliases[strings.ToLower(next)] = true
			}
		}

		// Table references follow FROM and JOIN.
		if (upper == "FROM" || upper == "JOIN") && i+1 < len(tokens) {
			name := tokens[i+1]
			if name == "(" {
				continue // subquery
			}
			// Bare alias: FROM table name
			if i+2 < len(tokens) && isIdentToken(tokens[i+2]) && !queryKeywords[strings.ToUpper(tokens[i+2])] {
				aliases[strings.ToLower(tokens[i+2])] = true
			}
			lower := strings.ToLower(name)
			if cteNames[lower] || seen[lower] {
				continue
			}
			if !info.HasTable(name) {
				return nil, errors.ErrValidation(fmt.Sprintf("unknown table %s", name))
			}
			seen[lower] = true
			tables = append(tables, name)
		}
	}

	if len(tables) == 0 {
		return nil, errors.ErrValidation("statement references no known table")
	}

	// Second pass: every remaining identifier must be a column of one of the
	// referenced tables. Unknown columns fail validation here, before the
	// statement can reach the store.
	for i, tok := range tokens {
		if !isIdentToken(tok) {
			continue
		}
		upper := strings.ToUpper(tok)
		if queryKeywords[upper] {
			continue
		}
		lower := strings.ToLower(tok)
		if cteNames[lower] || aliases[lower] || seen[lower] || info.HasTable(tok) {
			continue
		}
		if i+1 < len(tokens) && (tokens[i+1] == "(" || tokens[i+1] == ".") {
			continue // function call or table/alias qualifier
		}
		if i > 0 {
			prev := strings.ToUpper(tokens[i-1])
			if prev == "FROM" || prev == "JOIN" || prev == "AS" {
				continue // handled in the first pass
			}
		}
		known := false
		for _, table := range tables {
			if info.HasColumn(table, tok) {
				known = true
				break
			}
		}
		if !known {
			return nil, errors.ErrValidation(fmt.Sprintf("unknown column %s", tok))
		}
	}
	return tables, nil
}

// isIdentToken reports whether a token is a word rather than punctuation, a
// number, or a string literal.
func isIdentToken(tok string) bool {
	r := []rune(tok)[0]
	return unicode.IsLetter(r) || r == '_'
}

// tokenize splits a statement into words, punctuation, and quoted strings.
// String literals are swallowed whole so their contents never look like
// keywords; an unterminated literal is an error.
func tokenize(s string) ([]string, error) {
	var tokens []string
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"' || r == '`':
			quote := r
			j := i + 1
			for j < len(runes) {
				if runes[j] == quote {
					if j+1 < len(runes) && runes[j+1] == quote {
						j += 2 // escaped quote
						continue
					}
					break
				}
				j++
			}
			if j >= len(runes) {
				return nil, errors.ErrValidation("unterminated string literal")
			}
			if quote == '\'' {
				tokens = append(tokens, string(runes[i:j+1]))
			} else {
				// Quoted identifier: strip the quotes so lookups match.
				tokens = append(tokens, string(runes[i+1:j]))
			}
			i = j + 1
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			return nil, errors.ErrValidation("statement contains a comment")
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			return nil, errors.ErrValidation("statement contains a comment")
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			tokens = append(tokens, string(r))
			i++
		}
	}
	return tokens, nil
}

func whitelisted(whitelist map[string]bool, table string) bool {
	return whitelist[table] || whitelist[strings.ToLower(table)]
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
