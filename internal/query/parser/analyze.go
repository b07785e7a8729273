package parser

import (
	"strings"

	apperrors "github.com/smoosense/smoosense/internal/errors"
)

// Statement is the result of analyzing one read-only query.
type Statement struct {
	// SQL is the input with surrounding whitespace and trailing
	// semicolons removed
	SQL string

	// Keyword is the upper-cased leading keyword, e.g. SELECT or WITH
	Keyword string

	// HasOrderBy is true when ORDER BY appears outside any parentheses
	HasOrderBy bool

	// HasLimit is true when LIMIT, OFFSET or FETCH appears outside any
	// parentheses
	HasLimit bool

	// BareTable names the relation of a plain "SELECT * FROM t" or
	// "FROM t", otherwise it is empty
	BareTable string
}

// readKeywords are statement starts that cannot modify anything.
var readKeywords = map[string]bool{
	"SELECT":    true,
	"WITH":      true,
	"FROM":      true,
	"VALUES":    true,
	"TABLE":     true,
	"DESCRIBE":  true,
	"SUMMARIZE": true,
	"SHOW":      true,
	"PIVOT":     true,
	"UNPIVOT":   true,
}

// writeKeywords start statements that change the catalog, files or
// settings.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true,
	"COPY": true, "EXPORT": true, "IMPORT": true,
	"ATTACH": true, "DETACH": true, "USE": true,
	"INSTALL": true, "LOAD": true, "SET": true, "RESET": true,
	"PRAGMA": true, "CALL": true, "VACUUM": true, "CHECKPOINT": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "ABORT": true,
	"GRANT": true, "REVOKE": true,
}

// dmlInCTE are keywords that may follow a WITH clause but write.
var dmlInCTE = map[string]bool{"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "COPY": true, "CREATE": true}

// Analyze validates that sql is a single read-only statement and reports
// the top-level clauses pagination depends on.
func Analyze(sql string) (*Statement, error) {
	lex := NewLexer(sql)
	var (
		tokens     []Token
		depths     []int
		depth      int
		end        int
		terminated bool
	)

scan:
	for {
		tok := lex.NextToken()
		switch tok.Type {
		case TokenEOF:
			break scan
		case TokenError:
			return nil, apperrors.NewValidationError(tok.Literal)
		case TokenSemicolon:
			if depth == 0 {
				terminated = true
			}
			continue
		}
		if terminated {
			return nil, apperrors.NewValidationError("multiple statements are not supported")
		}

		// A parenthesis belongs to the level it opens from.
		if tok.Type == TokenRParen && depth > 0 {
			depth--
		}
		tokens = append(tokens, tok)
		depths = append(depths, depth)
		if tok.Type == TokenLParen {
			depth++
		}
		end = lex.Offset()
	}
	if len(tokens) == 0 {
		return nil, apperrors.NewValidationError("empty query")
	}

	first := tokens[0]
	if first.Type != TokenWord {
		return nil, apperrors.NewValidationError("query must start with a keyword")
	}
	stmt := &Statement{
		SQL:     strings.TrimSpace(sql[:end]),
		Keyword: first.Upper(),
	}
	if writeKeywords[stmt.Keyword] {
		return nil, apperrors.NewReadOnlyError(stmt.Keyword)
	}
	if !readKeywords[stmt.Keyword] {
		return nil, apperrors.NewValidationError("unsupported statement: " + stmt.Keyword)
	}

	for i, tok := range tokens {
		if tok.Type != TokenWord || depths[i] != 0 {
			continue
		}
		switch kw := tok.Upper(); {
		case kw == "ORDER" && i+1 < len(tokens) && tokens[i+1].Type == TokenWord && tokens[i+1].Upper() == "BY":
			stmt.HasOrderBy = true
		case kw == "LIMIT" || kw == "OFFSET" || kw == "FETCH":
			stmt.HasLimit = true
		case stmt.Keyword == "WITH" && dmlInCTE[kw]:
			return nil, apperrors.NewReadOnlyError(kw)
		}
	}

	stmt.BareTable = bareTable(tokens)
	return stmt, nil
}

func bareTable(tokens []Token) string {
	rel := func(t Token) string {
		if t.Type == TokenWord || t.Type == TokenQuotedIdent {
			return t.Literal
		}
		return ""
	}
	switch {
	case len(tokens) == 4 && tokens[0].Upper() == "SELECT" && tokens[1].Literal == "*" && tokens[2].Upper() == "FROM":
		return rel(tokens[3])
	case len(tokens) == 2 && tokens[0].Upper() == "FROM":
		return rel(tokens[1])
	}
	return ""
}
