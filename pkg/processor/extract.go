package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/encoding/charmap"

	"github.com/xhad/askdocs/internal/models"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Extract decodes an artifact into plain text.
func (p *Processor) Extract(ctx context.Context, data []byte, mediaType models.MediaType) (string, error) {
	var (
		content string
		err     error
	)

	switch mediaType {
	case models.MediaPDF:
		content, err = extractPDF(ctx, data)
	case models.MediaDOCX:
		content, err = extractDOCX(data)
	case models.MediaText:
		content, err = extractText(ctx, data)
	case models.MediaMarkdown:
		content = extractMarkdown(data)
	default:
		return "", models.Validation(models.ErrUnsupportedMediaType, nil, "unsupported media type %q", mediaType)
	}
	if err != nil {
		return "", models.Validation(models.ErrExtractionFailed, err, "could not read %s content", mediaType)
	}
	if strings.TrimSpace(content) == "" {
		return "", models.Validation(models.ErrExtractionFailed, nil, "no text could be extracted from the %s document", mediaType)
	}
	return content, nil
}

func extractPDF(ctx context.Context, data []byte) (content string, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	loader := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)))
	pages, err := loader.Load(ctx)
	if err != nil {
		return "", err
	}
	return joinPages(pages), nil
}

func extractText(ctx context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return "", err
		}
		data = decoded
	}
	docs, err := documentloaders.NewText(bytes.NewReader(data)).Load(ctx)
	if err != nil {
		return "", err
	}
	return joinPages(docs), nil
}

func joinPages(pages []schema.Document) string {
	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		if strings.TrimSpace(page.PageContent) != "" {
			parts = append(parts, page.PageContent)
		}
	}
	return strings.Join(parts, "\n\n")
}

func extractMarkdown(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.HardLineBreak() {
					b.WriteByte('\n')
				} else if node.SoftLineBreak() {
					b.WriteByte(' ')
				}
			}
			return ast.WalkContinue, nil
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
			return ast.WalkContinue, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				return ast.WalkSkipChildren, nil
			}
			b.WriteString("\n\n")
			return ast.WalkContinue, nil
		}

		if entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindParagraph, ast.KindHeading, ast.KindThematicBreak, ast.KindBlockquote, ast.KindList, east.KindTable:
			b.WriteString("\n\n")
		case ast.KindTextBlock, east.KindTableRow, east.KindTableHeader:
			b.WriteString("\n")
		case east.KindTableCell:
			b.WriteString(" ")
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(blankRuns.ReplaceAllString(b.String(), "\n\n"))
}

// extractDOCX reads the paragraphs of word/document.xml.
func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a docx archive: %w", err)
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return parseDocumentXML(rc)
	}
	return "", fmt.Errorf("word/document.xml not found")
}

func parseDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(el)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
