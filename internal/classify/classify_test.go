package classify

import (
	"strings"
	"testing"
)

func TestBuildPromptListsAllCategories(t *testing.T) {
	t.Parallel()
	titles := map[string]string{
		"food": "Еда",
		"home": "Дом и сад",
		"tech": "Электроника",
	}
	prompt := buildPrompt(titles)
	for key, title := range titles {
		if !strings.Contains(prompt, "- "+key+": "+title) {
			t.Errorf("prompt missing category %q", key)
		}
	}
	// Deterministic ordering keeps the prompt stable across restarts.
	if buildPrompt(titles) != prompt {
		t.Error("prompt is not deterministic")
	}
	if strings.Index(prompt, "- food:") > strings.Index(prompt, "- home:") {
		t.Error("categories are not sorted")
	}
}
