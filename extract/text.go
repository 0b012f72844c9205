package extract

import (
	"os"
	"regexp"
)

var blankLines = regexp.MustCompile(`\r?\n\s*\r?\n+`)

func extractText(path string) ([]Part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	paragraphs := blankLines.Split(string(data), -1)
	return groupParagraphs(paragraphs), nil
}
