package transform

import (
	"regexp"
	"strings"
)

var (
	htmlBreakRegex      = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlParagraphRegex  = regexp.MustCompile(`(?i)<p\s*/?>`)
	htmlTagRegex        = regexp.MustCompile(`<[^>]+>`)
	excessNewlinesRegex = regexp.MustCompile(`\n{4,}`)
	trailingSpaceRegex  = regexp.MustCompile(`[ \t]+\n`)
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
)

// refusalPhrases signal that the model declined the task instead of answering.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// refusalWindow bounds how much of a response is scanned for refusal phrases.
const refusalWindow = 300

// CleanMarkdown strips HTML markup and code fences from a model response and
// normalises whitespace.
func CleanMarkdown(text string) string {
	text = entityReplacer.Replace(text)
	text = htmlBreakRegex.ReplaceAllString(text, "\n")
	text = htmlParagraphRegex.ReplaceAllString(text, "\n\n")
	text = htmlTagRegex.ReplaceAllString(text, "")

	text = stripCodeFence(strings.TrimSpace(text))

	text = excessNewlinesRegex.ReplaceAllString(text, "\n\n\n")
	text = trailingSpaceRegex.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	lines := strings.Split(text, "\n")
	first := strings.TrimSpace(lines[0])
	if first == "```" || strings.HasPrefix(first, "```markdown") || strings.HasPrefix(first, "```md") {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

// IsRefusal reports whether the start of a response reads as a model refusal.
func IsRefusal(text string) bool {
	head := text
	if len(head) > refusalWindow {
		head = head[:refusalWindow]
	}
	lower := strings.ToLower(head)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
