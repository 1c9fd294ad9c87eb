package agenda

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"mvdan.cc/xurls/v2"
)

var (
	relaxedURL = xurls.Relaxed()
	lineBreak  = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// ExtractToken returns the rest of the line following the first "key:"
// in text, matched case-insensitively and trimmed. The second result is
// false when the marker is absent or has nothing after it.
func ExtractToken(key, text string) (string, bool) {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(key) + `:([^\n]*)`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	return v, v != ""
}

// ExtractURL returns the first URL on the line introduced by "key:".
// Bare domains ("example.com/tickets") count as URLs.
func ExtractURL(key, text string) (string, bool) {
	token, ok := ExtractToken(key, text)
	if !ok {
		return "", false
	}
	u := relaxedURL.FindString(token)
	return u, u != ""
}

// PlainText reduces an HTML description to text. Anchors keep their href
// next to the link text so URLs survive for ExtractURL. Text without markup
// is returned unchanged.
func PlainText(desc string) string {
	if !strings.Contains(desc, "<") {
		return desc
	}

	desc = lineBreak.ReplaceAllString(desc, "\n")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc))
	if err != nil {
		return desc
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.TrimSpace(s.Text())
		if text == "" || text == href {
			s.SetText(href)
			return
		}
		s.SetText(text + " " + href)
	})

	return strings.TrimSpace(doc.Text())
}
