package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

var (
	errNoReadableText = errors.New("no readable text in page")
	whitespaceRE      = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLinesRE      = regexp.MustCompile(`\n{3,}`)
)

var boilerplateSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"header", "footer", "nav", "aside", "form",
	".advertisement", ".ad", ".sidebar", ".comments", ".cookie-banner",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]",
}

// Readable strips navigation and boilerplate from an HTML page and returns
// the main text. It tries readability first and falls back to goquery.
func Readable(html []byte, pageURL string) (string, error) {
	parsedURL, _ := url.Parse(pageURL)

	article, err := readability.FromReader(bytes.NewReader(html), parsedURL)
	if err == nil {
		text := articleText(article.Content, article.TextContent)
		if text != "" {
			return text, nil
		}
	}

	text, gqErr := readableWithGoquery(html)
	if gqErr != nil {
		if err != nil {
			return "", fmt.Errorf("readability: %v; goquery: %w", err, gqErr)
		}
		return "", gqErr
	}
	return text, nil
}

func articleText(contentHTML, textContent string) string {
	if strings.TrimSpace(contentHTML) != "" {
		markdown, err := htmltomarkdown.ConvertString(contentHTML)
		if err == nil && strings.TrimSpace(markdown) != "" {
			return normalizeText(markdown)
		}
	}
	return normalizeText(textContent)
}

func readableWithGoquery(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(strings.Join(boilerplateSelectors, ", ")).Remove()

	content := doc.Find("article, main, .content, .post-content, .article-content, #content").First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}

	text := normalizeText(content.Text())
	if text == "" {
		return "", errNoReadableText
	}
	return text, nil
}

func normalizeText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRE.ReplaceAllString(line, " "))
	}
	joined := strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRE.ReplaceAllString(joined, "\n\n"))
}
