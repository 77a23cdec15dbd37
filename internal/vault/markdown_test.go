package vault

import (
	"testing"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/stretchr/testify/assert"
)

func TestSplitAttachments(t *testing.T) {
	body := "text\n\n## Attachments\n- ![[Attachments/a.png]]\n- ![[Attachments/b c.jpg|300]]\n"

	rest, names := SplitAttachments(body)
	assert.Equal(t, "text\n", rest)
	assert.Equal(t, []string{"a.png", "b c.jpg"}, names)
}

func TestSplitAttachments_None(t *testing.T) {
	rest, names := SplitAttachments("just text")
	assert.Equal(t, "just text", rest)
	assert.Nil(t, names)
}

func TestLiftTitle(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantTitle string
		wantBody  string
	}{
		{"leading h1", "# Trip\nday one", "Trip", "day one"},
		{"blank lines first", "\n\n# Trip #\nx", "Trip", "x"},
		{"h2 is not a title", "## Trip\nx", "", "## Trip\nx"},
		{"text first", "intro\n# Trip", "", "intro\n# Trip"},
		{"hashtag is not a heading", "#todo\nx", "", "#todo\nx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := LiftTitle(tt.body)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestExtractItems(t *testing.T) {
	items := ExtractItems("- [ ] milk\n- [x] eggs\n- [X] bread \\#bakery\n")

	assert.Equal(t, []notes.Item{
		{Text: "milk"},
		{Text: "eggs", Checked: true},
		{Text: "bread #bakery", Checked: true},
	}, items)
}

func TestExtractItems_IgnoresCodeBlocks(t *testing.T) {
	body := "```\n- [ ] not a task\n```\n\n- [ ] real task\n"

	items := ExtractItems(body)
	assert.Equal(t, []notes.Item{{Text: "real task"}}, items)
}

func TestExtractItems_Nested(t *testing.T) {
	items := ExtractItems("- [ ] outer\n  - [x] inner\n")
	assert.Equal(t, []notes.Item{{Text: "outer"}, {Text: "inner", Checked: true}}, items)
}

func TestExtractItems_PlainListIsNotTasks(t *testing.T) {
	assert.Empty(t, ExtractItems("- milk\n- eggs\n"))
}

func TestParseContent(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		lift   bool
		title  string
		isList bool
		items  int
	}{
		{"text note", "hello\nworld", false, "", false, 0},
		{"list note", "- [ ] a\n\n- [x] b\n", false, "", true, 2},
		{"mixed is text", "intro\n- [ ] a\n", false, "", false, 1},
		{"list with lifted title", "# Shop\n- [ ] a\n", true, "Shop", true, 1},
		{"title not lifted", "# Shop\n- [ ] a\n", false, "", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ParseContent(tt.body, tt.lift)
			assert.Equal(t, tt.title, c.Title)
			assert.Equal(t, tt.isList, c.IsList)
			assert.Len(t, c.Items, tt.items)
		})
	}
}

func TestHasChecklist(t *testing.T) {
	assert.True(t, HasChecklist("intro\n- [ ] a"))
	assert.True(t, HasChecklist("* [x] done"))
	assert.False(t, HasChecklist("- plain"))
}
