package tags

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple lowercase", "golang", "golang"},
		{"mixed case", "GoLang", "golang"},
		{"spaces become hyphens", "distributed systems", "distributed-systems"},
		{"consecutive separators collapse", "a  - _ b", "a-b"},
		{"leading and trailing separators dropped", "--hello--", "hello"},
		{"dots become hyphens", "web.dev", "web-dev"},
		{"cjk passes through", "日本語", "日本語"},
		{"cjk with spaces", "日本 旅行", "日本-旅行"},
		{"fullwidth folds to ascii", "ＧｏＬａｎｇ", "golang"},
		{"digits kept", "web3", "web3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.input))
		})
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"simple name", "golang", true},
		{"name with spaces", "distributed systems", true},
		{"cjk name", "日本語", true},
		{"dots and underscores", "web.dev_2", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 51), false},
		{"exactly max length", strings.Repeat("a", 50), true},
		{"punctuation rejected", "c++", false},
		{"emoji rejected", "fun🎉", false},
		{"slash rejected", "a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidName(tt.input))
		})
	}
}

func TestNormalizeNames(t *testing.T) {
	t.Run("trims and slugifies", func(t *testing.T) {
		out := NormalizeNames([]string{"  GoLang  ", "Web Dev"}, 0)
		assert.Equal(t, []NormalizedName{
			{Name: "GoLang", Slug: "golang"},
			{Name: "Web Dev", Slug: "web-dev"},
		}, out)
	})

	t.Run("deduplicates by slug keeping first spelling", func(t *testing.T) {
		out := NormalizeNames([]string{"GoLang", "golang", "GOLANG"}, 0)
		assert.Len(t, out, 1)
		assert.Equal(t, "GoLang", out[0].Name)
	})

	t.Run("drops invalid names silently", func(t *testing.T) {
		out := NormalizeNames([]string{"ok", "c++", "", "also ok"}, 0)
		assert.Len(t, out, 2)
	})

	t.Run("caps at max count", func(t *testing.T) {
		out := NormalizeNames([]string{"a", "b", "c", "d"}, 2)
		assert.Len(t, out, 2)
		assert.Equal(t, "a", out[0].Slug)
		assert.Equal(t, "b", out[1].Slug)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		assert.Empty(t, NormalizeNames(nil, 10))
	})
}
