package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

func TestParse_Terms(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"foo", "text:foo"},
		{"function:parse", "function:parse"},
		{"fn:parse", "function:parse"},
		{"Struct:Parser", "struct:Parser"},
		{`text:"foo bar"`, `text:"foo bar"`},
		{`"AND"`, "text:AND"},
		{`"limit:5"`, "text:limit:5"},
		{"std::io", "text:std::io"},
		{"src/a.rs:10", "text:src/a.rs:10"},
		{"calls:src/main.rs:3:5", "calls:src/main.rs:3:5"},
		{"called_by:run", "calledby:run"},
		{"unknown:x", "unknown:x"},
		{"http://example.com", "text:http://example.com"},
		{"https://example.com/a:1", "text:https://example.com/a:1"},
		{`"note:this"`, "text:note:this"},
		{`regex:"fn \\w+"`, `regex:"fn \\w+"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, _, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}
}

func TestParse_BooleanStructure(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"foo bar", "(text:foo AND text:bar)"},
		{"foo AND bar", "(text:foo AND text:bar)"},
		{"foo && bar", "(text:foo AND text:bar)"},
		{"foo OR bar", "(text:foo OR text:bar)"},
		{"a OR b c", "(text:a OR (text:b AND text:c))"},
		{"a b OR c", "((text:a AND text:b) OR text:c)"},
		{"foo AND NOT bar", "(text:foo AND NOT text:bar)"},
		{"foo NOT bar", "(text:foo AND NOT text:bar)"},
		{"(a OR b) NOT c", "((text:a OR text:b) AND NOT text:c)"},
		{"function:run AND (calls:main OR references:main)", "(function:run AND (calls:main OR references:main))"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, _, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}
}

func TestParse_Metadata(t *testing.T) {
	q, meta, err := Parse("limit:10 function:parse offset:2")

	require.NoError(t, err)
	assert.Equal(t, "function:parse", q.String())
	require.NotNil(t, meta.Limit)
	require.NotNil(t, meta.Offset)
	assert.Equal(t, 10, *meta.Limit)
	assert.Equal(t, 2, *meta.Offset)

	_, meta, err = Parse("foo")
	require.NoError(t, err)
	assert.Nil(t, meta.Limit)
	assert.Nil(t, meta.Offset)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		in   string
		code string
	}{
		{"", errors.ErrCodeQueryEmpty},
		{"   ", errors.ErrCodeQueryEmpty},
		{"limit:5", errors.ErrCodeQueryEmpty},
		{"limit:-1 foo", errors.ErrCodeQueryParse},
		{"offset:x foo", errors.ErrCodeQueryParse},
		{"(foo", errors.ErrCodeQueryParse},
		{"foo)", errors.ErrCodeQueryParse},
		{"foo AND", errors.ErrCodeQueryParse},
		{"NOT foo", errors.ErrCodeQueryParse},
		{"OR foo", errors.ErrCodeQueryParse},
		{`"unterminated`, errors.ErrCodeQueryParse},
		{"function:", errors.ErrCodeQueryParse},
		{"()", errors.ErrCodeQueryParse},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, _, err := Parse(tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestParse_RoundTripsThroughString(t *testing.T) {
	for _, in := range []string{
		`(text:"a b" OR struct:Parser) AND NOT file:test`,
		"calls:main OR calledby:main",
	} {
		q, _, err := Parse(in)
		require.NoError(t, err)

		again, _, err := Parse(q.String())
		require.NoError(t, err)
		assert.Equal(t, q, again)
	}
}
