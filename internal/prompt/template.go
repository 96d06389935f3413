// Package prompt renders a conversation into the single text input expected
// by a chat-tuned causal language model.
package prompt

import (
	"sort"
	"strings"

	"tutor/internal/conversation"
)

// Template is a role-tagged chat format.
type Template struct {
	Name string
	// header opens a turn for the given role.
	header func(conversation.Role) string
	// Footer closes a turn.
	footer string
	// Delimiters are the sequences neutralized inside turn content.
	Delimiters []string
	// Stop markers end generation when they appear in model output.
	Stop []string
}

// Zephyr is the TinyLlama / Zephyr chat format.
var Zephyr = Template{
	Name:       "zephyr",
	header:     func(r conversation.Role) string { return "<|" + string(r) + "|>\n" },
	footer:     "</s>\n",
	Delimiters: []string{"</s>", "<|"},
	Stop:       []string{"</s>", "<|"},
}

// ChatML is the <|im_start|>/<|im_end|> chat format.
var ChatML = Template{
	Name:       "chatml",
	header:     func(r conversation.Role) string { return "<|im_start|>" + string(r) + "\n" },
	footer:     "<|im_end|>\n",
	Delimiters: []string{"<|"},
	Stop:       []string{"<|im_end|>", "<|im_start|>", "<|"},
}

var templates = map[string]Template{
	Zephyr.Name: Zephyr,
	ChatML.Name: ChatML,
}

// Lookup returns the template registered under name.
func Lookup(name string) (Template, bool) {
	t, ok := templates[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Names lists the registered template names in sorted order.
func Names() []string {
	out := make([]string, 0, len(templates))
	for n := range templates {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Format renders every turn of snap in order and appends the open assistant
// header so the model continues as the assistant.
func (t Template) Format(snap conversation.Snapshot) string {
	var b strings.Builder
	for _, turn := range snap.Turns() {
		b.WriteString(t.header(turn.Role))
		b.WriteString(t.Escape(turn.Content))
		b.WriteString(t.footer)
	}
	b.WriteString(t.header(conversation.RoleAssistant))
	return b.String()
}

// Escape neutralizes template delimiters in content by inserting a space after
// the first byte of each occurrence. Content without delimiters is returned as is.
func (t Template) Escape(content string) string {
	for _, d := range t.Delimiters {
		if strings.Contains(content, d) {
			content = strings.ReplaceAll(content, d, d[:1]+" "+d[1:])
		}
	}
	return content
}
