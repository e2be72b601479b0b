package cli

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func Test_ParseValue_Decodes_JSON_And_Falls_Back_To_String(t *testing.T) {
	t.Parallel()

	cases := map[string]any{
		"3":         float64(3),
		"true":      true,
		`"3"`:       "3",
		"three":     "three",
		`["a", 1]`:  []any{"a", float64(1)},
		`{"$gt":2}`: map[string]any{"$gt": float64(2)},
		"":          "",
	}

	for in, want := range cases {
		if diff := cmp.Diff(want, parseValue(in)); diff != "" {
			t.Errorf("parseValue(%q) mismatch (-want +got):\n%s", in, diff)
		}
	}
}

func Test_ParseAssignment_Splits_On_First_Equals(t *testing.T) {
	t.Parallel()

	key, value, err := parseAssignment("expr=a=b")
	require.NoError(t, err)
	require.Equal(t, "expr", key)
	require.Equal(t, "a=b", value)

	_, _, err = parseAssignment("novalue")
	require.ErrorIs(t, err, errBadAssignment)
}

func Test_SplitLine_Groups_Quoted_Words(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want []string
	}{
		{line: "", want: nil},
		{line: "  find  x  ", want: []string{"find", "x"}},
		{line: `create c -s "title=a b"`, want: []string{"create", "c", "-s", "title=a b"}},
		{line: `-s 'v={"k": "x y"}'`, want: []string{"-s", `v={"k": "x y"}`}},
		{line: `a\ b "c\"d"`, want: []string{"a b", `c"d`}},
		{line: `''`, want: []string{""}},
	}

	for _, tt := range tests {
		got, err := splitLine(tt.line)
		require.NoError(t, err, tt.line)

		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("splitLine(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func Test_SplitLine_Returns_Error_When_Quote_Is_Unterminated(t *testing.T) {
	t.Parallel()

	_, err := splitLine(`create "oops`)
	require.Error(t, err)
}
