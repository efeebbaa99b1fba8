package transform

import "testing"

func TestCleanMarkdownStripsHTMLAndFences(t *testing.T) {
	raw := "```markdown\n# Title&nbsp;One<br>line two<div class=\"x\">body</div>\n```"
	got := CleanMarkdown(raw)
	want := "# Title One\nline twobody"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanMarkdownCollapsesBlankRuns(t *testing.T) {
	got := CleanMarkdown("a   \n\n\n\n\n\nb")
	want := "a\n\n\nb"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanMarkdownLeavesInnerFencesAlone(t *testing.T) {
	raw := "intro\n```\ncode\n```"
	if got := CleanMarkdown(raw); got != raw {
		t.Fatalf("expected unchanged text, got %q", got)
	}
}

func TestIsRefusal(t *testing.T) {
	if !IsRefusal("I am unable to help with this request.") {
		t.Fatal("expected refusal to be detected")
	}
	if IsRefusal("Chapter 1\n\nThe river ran north.") {
		t.Fatal("expected ordinary text not to be a refusal")
	}
	long := make([]byte, refusalWindow+10)
	for i := range long {
		long[i] = 'a'
	}
	if IsRefusal(string(long) + " as a large language model") {
		t.Fatal("expected phrases past the scan window to be ignored")
	}
}
