// Package extract turns uploaded files into ordered (locator, text) parts.
// Paginated formats use the page number as locator; non-paginated formats
// group paragraphs into fixed-size blocks and use the block number instead.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Part is one extractable unit of a source document.
type Part struct {
	Locator int
	Text    string
}

// Non-paginated formats flush a block after this many paragraphs.
const paragraphsPerBlock = 8

var supportedExts = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
}

func Supported(filename string) bool {
	return supportedExts[strings.ToLower(filepath.Ext(filename))]
}

// Extract dispatches on the file extension.
func Extract(path string) ([]Part, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".docx":
		return extractDOCX(path)
	case ".txt", ".md":
		return extractText(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
}

// groupParagraphs folds non-empty paragraphs into numbered blocks.
func groupParagraphs(paragraphs []string) []Part {
	var parts []Part
	var buf []string
	block := 1
	seen := 0
	for _, p := range paragraphs {
		t := strings.TrimSpace(p)
		if t != "" {
			buf = append(buf, t)
		}
		seen++
		if seen%paragraphsPerBlock == 0 && len(buf) > 0 {
			parts = append(parts, Part{Locator: block, Text: strings.Join(buf, "\n")})
			buf = nil
			block++
		}
	}
	if len(buf) > 0 {
		parts = append(parts, Part{Locator: block, Text: strings.Join(buf, "\n")})
	}
	return parts
}
