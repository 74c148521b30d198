package jira

import (
	"strings"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	"github.com/randalmurphal/incsync/internal/document"
)

// MarkdownToADF converts the Markdown subset used in sync bodies (headings,
// bullet and checkbox lists, paragraphs, **bold** and `code`) to an
// Atlassian Document Format tree. Anything else is carried as plain text.
func MarkdownToADF(md string) *models.CommentNodeScheme {
	doc := &models.CommentNodeScheme{Version: 1, Type: "doc"}

	var para []string
	var list *models.CommentNodeScheme
	flushPara := func() {
		if len(para) == 0 {
			return
		}
		p := &models.CommentNodeScheme{Type: "paragraph"}
		for i, line := range para {
			if i > 0 {
				p.Content = append(p.Content, &models.CommentNodeScheme{Type: "hardBreak"})
			}
			p.Content = append(p.Content, inline(line)...)
		}
		doc.Content = append(doc.Content, p)
		para = nil
	}
	flushList := func() {
		if list != nil {
			doc.Content = append(doc.Content, list)
			list = nil
		}
	}

	var code []string
	inCode := false
	addItem := func(text string) {
		if list == nil {
			list = &models.CommentNodeScheme{Type: "bulletList"}
		}
		list.Content = append(list.Content, &models.CommentNodeScheme{
			Type: "listItem",
			Content: []*models.CommentNodeScheme{
				{Type: "paragraph", Content: inline(text)},
			},
		})
	}

	for _, tok := range document.Lex(md) {
		if tok.Kind == document.TokenCode {
			flushPara()
			flushList()
			if isFence(tok.Raw) {
				if inCode {
					doc.Content = append(doc.Content, codeBlock(code))
					code = nil
				}
				inCode = !inCode
				continue
			}
			code = append(code, tok.Raw)
			continue
		}

		switch tok.Kind {
		case document.TokenHeading:
			flushPara()
			flushList()
			doc.Content = append(doc.Content, &models.CommentNodeScheme{
				Type:    "heading",
				Attrs:   map[string]interface{}{"level": tok.Level},
				Content: inline(tok.Text),
			})
		case document.TokenListItem:
			flushPara()
			text := tok.Text
			switch tok.Box {
			case document.BoxChecked:
				text = "[x] " + text
			case document.BoxOpen:
				text = "[ ] " + text
			}
			addItem(text)
		case document.TokenField:
			line := strings.TrimSpace(tok.Raw)
			if rest, ok := cutBullet(line); ok {
				flushPara()
				addItem(rest)
				continue
			}
			flushList()
			para = append(para, line)
		case document.TokenText:
			flushList()
			para = append(para, tok.Text)
		default:
			flushPara()
			flushList()
		}
	}
	if inCode {
		doc.Content = append(doc.Content, codeBlock(code))
	}
	flushPara()
	flushList()
	return doc
}

func isFence(raw string) bool {
	t := strings.TrimSpace(raw)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

func cutBullet(line string) (string, bool) {
	if len(line) > 1 && strings.ContainsRune("-*+", rune(line[0])) && line[1] == ' ' {
		return strings.TrimSpace(line[2:]), true
	}
	return "", false
}

func codeBlock(lines []string) *models.CommentNodeScheme {
	n := &models.CommentNodeScheme{Type: "codeBlock"}
	if len(lines) > 0 {
		n.Content = []*models.CommentNodeScheme{{Type: "text", Text: strings.Join(lines, "\n")}}
	}
	return n
}

// inline splits text into text nodes, marking **bold** and `code` spans.
func inline(s string) []*models.CommentNodeScheme {
	var nodes []*models.CommentNodeScheme
	emit := func(text, mark string) {
		if text == "" {
			return
		}
		n := &models.CommentNodeScheme{Type: "text", Text: text}
		if mark != "" {
			n.Marks = []*models.MarkScheme{{Type: mark}}
		}
		nodes = append(nodes, n)
	}

	for s != "" {
		i := strings.IndexAny(s, "*`")
		if i < 0 {
			emit(s, "")
			break
		}
		delim, mark := "`", "code"
		if strings.HasPrefix(s[i:], "**") {
			delim, mark = "**", "strong"
		} else if s[i] == '*' {
			emit(s[:i+1], "")
			s = s[i+1:]
			continue
		}
		end := strings.Index(s[i+len(delim):], delim)
		if end < 0 {
			emit(s, "")
			break
		}
		emit(s[:i], "")
		emit(s[i+len(delim):i+len(delim)+end], mark)
		s = s[i+len(delim)+end+len(delim):]
	}
	return nodes
}
