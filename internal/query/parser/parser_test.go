package parser

import (
	"errors"
	"testing"

	apperrors "github.com/smoosense/smoosense/internal/errors"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{
			"SELECT * FROM events",
			[]TokenType{TokenWord, TokenOperator, TokenWord, TokenWord, TokenEOF},
		},
		{
			`SELECT "we""ird", 'it''s' FROM t -- trailing`,
			[]TokenType{TokenWord, TokenQuotedIdent, TokenComma, TokenString, TokenWord, TokenWord, TokenEOF},
		},
		{
			"SELECT count(*) /* block ; comment */ FROM t WHERE x >= 1.5e3;",
			[]TokenType{TokenWord, TokenWord, TokenLParen, TokenOperator, TokenRParen, TokenWord, TokenWord, TokenWord, TokenWord, TokenOperator, TokenOperator, TokenNumber, TokenSemicolon, TokenEOF},
		},
	}

	for _, tt := range tests {
		tokens := NewLexer(tt.input).Tokenize()
		if len(tokens) != len(tt.expected) {
			t.Errorf("input %q: expected %d tokens, got %d: %v", tt.input, len(tt.expected), len(tokens), tokens)
			continue
		}
		for i, tok := range tokens {
			if tok.Type != tt.expected[i] {
				t.Errorf("input %q: token %d: expected %s, got %s", tt.input, i, tt.expected[i], tok.Type)
			}
		}
	}
}

func TestLexerUnescapesQuotes(t *testing.T) {
	tokens := NewLexer(`'it''s' "a""b"`).Tokenize()
	if tokens[0].Literal != "it's" || tokens[1].Literal != `a"b` {
		t.Errorf("unexpected literals %q %q", tokens[0].Literal, tokens[1].Literal)
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		sql       string
		orderBy   bool
		limit     bool
		bareTable string
	}{
		{"bare scan", "SELECT * FROM t", "SELECT * FROM t", false, false, "t"},
		{"from first", `FROM "my table"`, `FROM "my table"`, false, false, "my table"},
		{"trailing semicolons", "SELECT * FROM t ORDER BY id ;; ", "SELECT * FROM t ORDER BY id", true, false, ""},
		{"trailing comment", "SELECT a FROM t ORDER BY a -- newest first", "SELECT a FROM t ORDER BY a", true, false, ""},
		{"top level limit", "SELECT * FROM t ORDER BY id LIMIT 5", "SELECT * FROM t ORDER BY id LIMIT 5", true, true, ""},
		{"nested order is ignored", "SELECT * FROM (SELECT * FROM t ORDER BY id LIMIT 3) s", "SELECT * FROM (SELECT * FROM t ORDER BY id LIMIT 3) s", false, false, ""},
		{"window order is ignored", "SELECT row_number() OVER (ORDER BY id) FROM t", "SELECT row_number() OVER (ORDER BY id) FROM t", false, false, ""},
		{"order keyword in string", "SELECT 'ORDER BY x' FROM t", "SELECT 'ORDER BY x' FROM t", false, false, ""},
		{"cte", "WITH x AS (SELECT 1 AS a) SELECT * FROM x ORDER BY a", "WITH x AS (SELECT 1 AS a) SELECT * FROM x ORDER BY a", true, false, ""},
		{"offset only", "SELECT * FROM t OFFSET 10", "SELECT * FROM t OFFSET 10", false, true, ""},
		{"semicolon in string", "SELECT ';' FROM t", "SELECT ';' FROM t", false, false, ""},
		{"describe", "DESCRIBE t", "DESCRIBE t", false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Analyze(tt.input)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if stmt.SQL != tt.sql {
				t.Errorf("SQL = %q, want %q", stmt.SQL, tt.sql)
			}
			if stmt.HasOrderBy != tt.orderBy || stmt.HasLimit != tt.limit {
				t.Errorf("orderBy=%v limit=%v, want %v %v", stmt.HasOrderBy, stmt.HasLimit, tt.orderBy, tt.limit)
			}
			if stmt.BareTable != tt.bareTable {
				t.Errorf("BareTable = %q, want %q", stmt.BareTable, tt.bareTable)
			}
		})
	}
}

func TestAnalyzeRejects(t *testing.T) {
	tests := []struct {
		input string
		code  string
	}{
		{"", apperrors.CodeInvalidRequest},
		{"  -- only a comment", apperrors.CodeInvalidRequest},
		{"SELECT 1; SELECT 2", apperrors.CodeInvalidRequest},
		{"SELECT 'unterminated", apperrors.CodeInvalidRequest},
		{"SELECT 1 /* open", apperrors.CodeInvalidRequest},
		{"DROP TABLE t", apperrors.CodeReadOnly},
		{"copy t TO 'out.csv'", apperrors.CodeReadOnly},
		{"SET threads = 1", apperrors.CodeReadOnly},
		{"ATTACH 'x.db'", apperrors.CodeReadOnly},
		{"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", apperrors.CodeReadOnly},
		{"EXPLAIN SELECT 1", apperrors.CodeInvalidRequest},
		{"(SELECT 1)", apperrors.CodeInvalidRequest},
	}
	for _, tt := range tests {
		_, err := Analyze(tt.input)
		if err == nil {
			t.Errorf("Analyze(%q) should fail", tt.input)
			continue
		}
		if got := apperrors.GetCode(err); got != tt.code {
			t.Errorf("Analyze(%q) code = %s, want %s (%v)", tt.input, got, tt.code, err)
		}
	}

	_, err := Analyze("DELETE FROM t")
	if !errors.Is(err, apperrors.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}
