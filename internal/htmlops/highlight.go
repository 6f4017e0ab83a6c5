package htmlops

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const languagePrefix = "language-"

// Highlight syntax-highlights every <pre><code> block in src, which may be a full document or a fragment.
//
// A block whose class names a language ("language-go") is highlighted as that language, a block without
// a class has its language detected, and a block with any other class is left alone. Tokens are wrapped
// in spans carrying chroma's short class names, and the code element's class is set to the language used.
func Highlight(src string) (string, error) {
	var buf bytes.Buffer
	if isDocument(src) {
		doc, err := html.Parse(strings.NewReader(src))
		if err != nil {
			return "", fmt.Errorf("parsing HTML: %w", err)
		}
		err = highlightTree(doc)
		if err != nil {
			return "", err
		}
		err = html.Render(&buf, doc)
		if err != nil {
			return "", fmt.Errorf("rendering HTML: %w", err)
		}
		return buf.String(), nil
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return "", fmt.Errorf("parsing HTML fragment: %w", err)
	}
	for _, n := range nodes {
		err = highlightTree(n)
		if err != nil {
			return "", err
		}
		err = html.Render(&buf, n)
		if err != nil {
			return "", fmt.Errorf("rendering HTML: %w", err)
		}
	}
	return buf.String(), nil
}

func isDocument(src string) bool {
	head := strings.ToLower(strings.TrimSpace(src))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

func highlightTree(n *html.Node) error {
	if isElement(n, atom.Code) && isElement(n.Parent, atom.Pre) {
		return highlightCode(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := highlightTree(c); err != nil {
			return err
		}
	}
	return nil
}

func highlightCode(code *html.Node) error {
	text := textContent(code)

	var lexer chroma.Lexer
	if class, ok := attr(code, "class"); ok {
		lang := language(class)
		if lang == "" {
			return nil
		}
		lexer = lexers.Get(lang)
		if lexer == nil {
			return nil
		}
	} else {
		lexer = lexers.Analyse(text)
		if lexer == nil {
			lexer = lexers.Fallback
		}
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, text)
	if err != nil {
		return fmt.Errorf("tokenising %s code: %w", lexer.Config().Name, err)
	}

	tokens := iterator.Tokens()
	// some lexers append a newline the source did not have
	if n := len(tokens); n > 0 && !strings.HasSuffix(text, "\n") {
		tokens[n-1].Value = strings.TrimSuffix(tokens[n-1].Value, "\n")
	}

	for c := code.FirstChild; c != nil; {
		next := c.NextSibling
		code.RemoveChild(c)
		c = next
	}
	for _, tok := range tokens {
		if tok.Value == "" {
			continue
		}
		code.AppendChild(tokenNode(tok))
	}
	setAttr(code, "class", languagePrefix+strings.ToLower(lexer.Config().Name))
	return nil
}

func tokenNode(tok chroma.Token) *html.Node {
	text := &html.Node{Type: html.TextNode, Data: tok.Value}
	class := tokenClass(tok.Type)
	if class == "" {
		return text
	}
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr:     []html.Attribute{{Key: "class", Val: class}},
	}
	span.AppendChild(text)
	return span
}

// tokenClass falls back to the token's broader categories for types without a class of their own.
func tokenClass(t chroma.TokenType) string {
	for _, tt := range []chroma.TokenType{t, t.SubCategory(), t.Category()} {
		if class := chroma.StandardTypes[tt]; class != "" {
			return class
		}
	}
	return ""
}

// language returns the X of the first "language-X" class.
func language(class string) string {
	for _, c := range strings.Fields(class) {
		if strings.HasPrefix(c, languagePrefix) {
			return strings.TrimPrefix(c, languagePrefix)
		}
	}
	return ""
}

func isElement(n *html.Node, a atom.Atom) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == a
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
