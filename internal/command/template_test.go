package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFragment(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		split        bool
		placeholders []string
	}{
		{name: "literal", raw: "-strip"},
		{name: "empty literal", raw: ""},
		{name: "placeholder", raw: "${source}", placeholders: []string{"source"}},
		{name: "embedded", raw: "-density=${dpi}x${dpi}", placeholders: []string{"dpi", "dpi"}},
		{name: "split", raw: "SPLIT:${options}", split: true, placeholders: []string{"options"}},
		{name: "split with literal", raw: "SPLIT:-define ${defs}", split: true, placeholders: []string{"defs"}},
		{name: "dollar without brace", raw: "$HOME", placeholders: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFragment(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, f.Raw())
			assert.Equal(t, tt.split, f.Split())
			assert.Equal(t, tt.placeholders, f.Placeholders())
		})
	}
}

func TestParseFragment_Invalid(t *testing.T) {
	for _, raw := range []string{"${source", "a${}b", "${bad name}", "SPLIT:${"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseFragment(raw)
			assert.Error(t, err)
		})
	}
}

func TestNewTemplate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec TemplateSpec
	}{
		{name: "missing name", spec: TemplateSpec{Args: []string{"convert"}}},
		{name: "no args", spec: TemplateSpec{Name: "t"}},
		{name: "bad regexp", spec: TemplateSpec{Name: "t", Match: "(", Args: []string{"convert"}}},
		{name: "bad fragment", spec: TemplateSpec{Name: "t", Args: []string{"convert", "${x"}}},
		{name: "split executable", spec: TemplateSpec{Name: "t", Args: []string{"SPLIT:${exe}"}}},
		{name: "blank executable", spec: TemplateSpec{Name: "t", Args: []string{"  "}}},
		{name: "zero exit code", spec: TemplateSpec{Name: "t", Args: []string{"convert"}, AcceptableExitCodes: []int{0}}},
		{name: "bad required name", spec: TemplateSpec{Name: "t", Args: []string{"convert"}, Required: []string{"a b"}}},
		{name: "negative timeout", spec: TemplateSpec{Name: "t", Args: []string{"convert"}, Timeout: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTemplate(tt.spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration), "got %v", err)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestTemplate_MatchIsAnchored(t *testing.T) {
	tmpl, err := NewTemplate(TemplateSpec{Name: "png", Match: "png:jpe?g", Args: []string{"convert"}})
	require.NoError(t, err)

	assert.True(t, tmpl.Matches("png:jpg"))
	assert.True(t, tmpl.Matches("png:jpeg"))
	assert.False(t, tmpl.Matches("xpng:jpg"))
	assert.False(t, tmpl.Matches("png:jpgx"))
}

func TestTemplate_EmptyMatchIsCatchAll(t *testing.T) {
	tmpl, err := NewTemplate(TemplateSpec{Name: "any", Args: []string{"convert"}})
	require.NoError(t, err)
	assert.Equal(t, ".*", tmpl.Match())
	assert.True(t, tmpl.Matches("docx:pdf"))
}

func TestTemplate_Accessors(t *testing.T) {
	env := map[string]string{"MAGICK_HOME": "/opt/im"}
	tmpl, err := NewTemplate(TemplateSpec{
		Name:                "im",
		Args:                []string{"/usr/bin/convert", "${source}"},
		Env:                 env,
		AcceptableExitCodes: []int{255, 1, 2},
	})
	require.NoError(t, err)

	env["MAGICK_HOME"] = "mutated"
	assert.Equal(t, "/opt/im", tmpl.Env()["MAGICK_HOME"], "template must not alias caller map")

	got := tmpl.Env()
	got["MAGICK_HOME"] = "mutated"
	assert.Equal(t, "/opt/im", tmpl.Env()["MAGICK_HOME"], "Env must return a copy")

	assert.Equal(t, []int{1, 2, 255}, tmpl.AcceptableExitCodes())
	assert.Equal(t, "/usr/bin/convert", tmpl.Executable())
	assert.Equal(t, []string{"/usr/bin/convert", "${source}"}, tmpl.Args())
}

func TestParseExitCodes(t *testing.T) {
	codes, err := ParseExitCodes(" 1, 2,255,,400 ")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 255, 400}, codes)

	codes, err = ParseExitCodes("")
	require.NoError(t, err)
	assert.Empty(t, codes)

	_, err = ParseExitCodes("1,two")
	assert.Error(t, err)
}

func TestSelectionKey(t *testing.T) {
	assert.Equal(t, "png:jpg", SelectionKey(".PNG", " jpg"))
	assert.Equal(t, ":txt", SelectionKey("", ".txt"))
}
