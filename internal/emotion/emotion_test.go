package emotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name, in, text, tag string
	}{
		{"last tag wins", "Hello [happy] there [sad]!", "Hello  there !", "[sad]"},
		{"no tags", "plain reply", "plain reply", ""},
		{"leading tag", "[smile]Hi", "Hi", "[smile]"},
		{"reversed brackets", "oops ] then [", "oops ] then [", ""},
		{"reversed stops scan", "a ] b [c]", "a ] b [c]", ""},
		{"unmatched open", "wait [for it", "wait [for it", ""},
		{"nested", "x [a [b] c] y", "x  c] y", "[a [b]"},
		{"empty tag", "[]ok", "ok", "[]"},
		{"empty", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, tag := Extract(tc.in)
			assert.Equal(t, tc.text, text)
			assert.Equal(t, tc.tag, tag)
		})
	}
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"Hello [happy] there [sad]!",
		"x [a [b] c] y",
		"a ] b [c]",
		"[[[]]]",
		"no brackets",
	}
	for _, in := range inputs {
		once, _ := Extract(in)
		twice, tag := Extract(once)
		assert.Equal(t, once, twice, "input %q", in)
		assert.Empty(t, tag, "input %q", in)
	}
}
