package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var codeBlockPattern = regexp.MustCompile("(?s)```(\\w+)?\n(.*?)\n```")

var extByLang = map[string]string{
	"python": "py", "py": "py",
	"markdown": "md", "md": "md",
	"javascript": "js", "js": "js",
	"c": "c", "cpp": "cpp",
	"java": "java",
}

// SaveCodeBlocks writes every fenced code block of the answer to its own
// file under dir and returns the saved paths.
func SaveCodeBlocks(text, dir string) ([]string, error) {
	blocks := codeBlockPattern.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102_150405")
	var saved []string
	for idx, block := range blocks {
		lang := strings.ToLower(block[1])
		if lang == "" {
			lang = "txt"
		}
		ext, ok := extByLang[lang]
		if !ok {
			ext = lang
		}
		name := filepath.Join(dir, fmt.Sprintf("code_%s_%d.%s", timestamp, idx, ext))
		if err := os.WriteFile(name, []byte(strings.TrimSpace(block[2])), 0644); err != nil {
			return saved, err
		}
		saved = append(saved, name)
	}
	return saved, nil
}

// ShouldSaveCode reproduces the trigger rule: code modes always save, plain
// chat saves when the raw message starts with "code".
func ShouldSaveCode(mode, userText string) bool {
	switch mode {
	case "c", "python", "java":
		return true
	}
	return strings.HasPrefix(strings.ToLower(userText), "code")
}
