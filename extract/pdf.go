package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDF pulls per-page text with pdfcpu. pdfcpu has no direct text
// extraction, so the page content streams are extracted to a scratch
// directory and the text-showing operators are decoded from them. Pages with
// no recoverable text are skipped, matching the locator sequence of the
// remaining pages to their real page numbers.
func extractPDF(path string) ([]Part, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp("", "mercurial-pdf-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("extract pdf content: %w", err)
	}

	pageTexts := make(map[int]string)
	files, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		var pageNum int
		name := f.Name()
		if _, err := fmt.Sscanf(name, "page_%d", &pageNum); err != nil {
			// pdfcpu also emits <basename>_Content_page_<n>.txt
			if i := strings.LastIndex(name, "page_"); i >= 0 {
				fmt.Sscanf(name[i:], "page_%d", &pageNum)
			}
		}
		if pageNum == 0 {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = decodeContentText(string(content))
	}

	var parts []Part
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		txt := strings.TrimSpace(pageTexts[pageNum])
		if txt != "" {
			parts = append(parts, Part{Locator: pageNum, Text: txt})
		}
	}
	return parts, nil
}

// decodeContentText collects the literal strings fed to the Tj/TJ/'/"
// operators of a page content stream. Escapes for (, ) and \ are resolved;
// other escape sequences are dropped. This covers simple encodings; pages
// using CID font programs come out empty and are skipped upstream.
func decodeContentText(content string) string {
	var out strings.Builder
	depth := 0
	escaped := false

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if depth == 0 {
			if ch == '(' {
				depth = 1
			}
			continue
		}

		if escaped {
			switch ch {
			case '(', ')', '\\':
				out.WriteByte(ch)
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			}
			escaped = false
			continue
		}

		switch ch {
		case '\\':
			escaped = true
		case '(':
			depth++
			out.WriteByte(ch)
		case ')':
			depth--
			if depth == 0 {
				out.WriteByte(' ')
			} else {
				out.WriteByte(ch)
			}
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}
