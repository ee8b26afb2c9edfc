package ingestion

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const blockSelector = "p, li, h1, h2, h3, h4, h5, h6, td, th, pre, blockquote, dt, dd"

// CleanHTML extracts readable text from markup. Block elements become paragraphs
// separated by blank lines so sentence and paragraph boundaries survive.
func CleanHTML(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, noscript, nav, footer, header, aside, form, iframe").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	var paras []string
	body.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// nested blocks are emitted by their innermost element
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if t := normalizeSpace(s.Text()); t != "" {
			paras = append(paras, t)
		}
	})

	if len(paras) == 0 {
		text = normalizeSpace(body.Text())
		return title, text, nil
	}
	return title, strings.Join(paras, "\n\n"), nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
