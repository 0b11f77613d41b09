package diff

import (
	"html"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// HighlightedLine represents a line with syntax-highlighted tokens.
type HighlightedLine struct {
	Tokens []Token
}

// Token is a syntax-highlighted chunk of text.
type Token struct {
	Text  string
	Color string // hex color, empty for default
}

// Plain returns the concatenated plain text of all tokens.
func (hl HighlightedLine) Plain() string {
	var b strings.Builder
	for _, t := range hl.Tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

// HighlightLines applies syntax highlighting to source lines for a given filename.
// Returns one HighlightedLine per input line.
func HighlightLines(filename string, lines []string) []HighlightedLine {
	lexer := lexerForFile(filename)
	if lexer == nil {
		return plainLines(lines)
	}

	source := strings.Join(lines, "\n")
	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return plainLines(lines)
	}

	style := styleNamed("dracula")

	result := make([]HighlightedLine, 0, len(lines))
	current := HighlightedLine{}

	for _, token := range iterator.Tokens() {
		// Split tokens that span multiple lines
		parts := strings.Split(token.Value, "\n")
		for i, part := range parts {
			if i > 0 {
				result = append(result, current)
				current = HighlightedLine{}
			}
			if part != "" {
				current.Tokens = append(current.Tokens, Token{
					Text:  part,
					Color: tokenColor(style, token.Type),
				})
			}
		}
	}
	result = append(result, current)

	for len(result) < len(lines) {
		result = append(result, HighlightedLine{Tokens: []Token{{Text: ""}}})
	}

	return result[:len(lines)]
}

// HighlightHTML renders src as HTML with inline styles, suitable for a mail
// body. The lexer is picked from filename; "diff" or ".patch" selects the
// unified diff lexer. Unknown languages come back escaped but unstyled. The
// result is not wrapped in <pre>.
func HighlightHTML(filename, src string) string {
	lexer := lexerForFile(filename)
	if lexer == nil {
		return html.EscapeString(src)
	}
	iterator, err := lexer.Tokenise(nil, src)
	if err != nil {
		return html.EscapeString(src)
	}

	formatter := chromahtml.New(
		chromahtml.WithClasses(false),
		chromahtml.PreventSurroundingPre(true),
	)
	var b strings.Builder
	if err := formatter.Format(&b, styleNamed("github"), iterator); err != nil {
		return html.EscapeString(src)
	}
	return b.String()
}

func plainLines(lines []string) []HighlightedLine {
	result := make([]HighlightedLine, len(lines))
	for i, line := range lines {
		result[i] = HighlightedLine{Tokens: []Token{{Text: line}}}
	}
	return result
}

func styleNamed(name string) *chroma.Style {
	style := styles.Get(name)
	if style == nil {
		style = styles.Fallback
	}
	return style
}

func lexerForFile(filename string) chroma.Lexer {
	var lexer chroma.Lexer
	if filename == "diff" {
		lexer = lexers.Get("diff")
	} else {
		lexer = lexers.Match(filename)
	}
	if lexer == nil {
		ext := filepath.Ext(filename)
		if ext != "" {
			lexer = lexers.Match("file" + ext)
		}
	}
	if lexer != nil {
		lexer = chroma.Coalesce(lexer)
	}
	return lexer
}

func tokenColor(style *chroma.Style, tt chroma.TokenType) string {
	entry := style.Get(tt)
	if entry.Colour.IsSet() {
		return entry.Colour.String()
	}
	return ""
}
