package driver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownSnapshot(t *testing.T) {
	out := MarkdownSnapshot(`<h1>Lookup</h1><p>Введите <b>когорту</b></p>`, "http://localhost/")

	assert.Contains(t, out, "# Lookup")
	assert.Contains(t, out, "**когорту**")
}

func TestMarkdownSnapshot_Empty(t *testing.T) {
	assert.Equal(t, "", MarkdownSnapshot("", ""))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "a & b <c>", stripTags("<p>a &amp; b</p>\n\n<span>&lt;c&gt;</span>"))
}

func TestPageSnapshot_RenderSortsFields(t *testing.T) {
	snap := &PageSnapshot{
		Markup: "<p>hello</p>",
		Fields: map[string]string{"#sprint": "1", "#cohort": "112"},
	}

	out := snap.Render("http://localhost/")
	assert.True(t, strings.HasPrefix(out, "hello"))
	assert.Contains(t, out, "Fields:\n- #cohort = \"112\"\n- #sprint = \"1\"\n")
}
