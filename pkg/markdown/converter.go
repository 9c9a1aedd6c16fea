package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphPattern = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	headingPattern   = regexp.MustCompile(`(?s)<h[1-6](?:\s[^>]*)?>(.*?)</h[1-6]>`)
	codeBlockPattern = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	breakPattern     = regexp.MustCompile(`<br\s*/?>`)
	tagPattern       = regexp.MustCompile(`</?([a-zA-Z0-9]+)(?:\s[^>]*)?/?>`)
	newlinesPattern  = regexp.MustCompile(`\n{3,}`)

	emphasisPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\*\*(\S(?:.*?\S)?)\*\*`),
		regexp.MustCompile(`__(\S(?:.*?\S)?)__`),
		regexp.MustCompile(`~~(\S(?:.*?\S)?)~~`),
		regexp.MustCompile(`\*(\S(?:.*?\S)?)\*`),
		regexp.MustCompile("`([^`]+)`"),
	}
)

// tags Telegram accepts in HTML parse mode
var supportedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true, "code": true, "pre": true, "a": true,
}

// ToTelegramHTML converts markdown to Telegram-compatible HTML
func ToTelegramHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return cleanHTMLForTelegram(html)
}

// cleanHTMLForTelegram cleans HTML to be compatible with Telegram
func cleanHTMLForTelegram(html string) string {
	html = paragraphPattern.ReplaceAllString(html, "$1\n")
	html = headingPattern.ReplaceAllString(html, "<b>$1</b>\n")
	html = codeBlockPattern.ReplaceAllString(html, "<pre>$1</pre>")
	html = breakPattern.ReplaceAllString(html, "\n")

	html = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<li>", "• ", "</li>", "",
	).Replace(html)

	// Drop every tag Telegram would reject, keeping its content
	html = tagPattern.ReplaceAllStringFunc(html, func(match string) string {
		name := strings.ToLower(tagPattern.FindStringSubmatch(match)[1])
		if supportedTags[name] {
			return match
		}
		return ""
	})

	html = newlinesPattern.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

// StripMarkdown removes inline emphasis markers, for transports or fallbacks
// that send plain text
func StripMarkdown(markdown string) string {
	for _, p := range emphasisPatterns {
		markdown = p.ReplaceAllString(markdown, "$1")
	}
	return markdown
}
