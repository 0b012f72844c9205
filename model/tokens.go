package model

import (
	"github.com/pkoukk/tiktoken-go"
)

// CountTokens estimates prompt size with the cl100k tokenizer. Local models
// tokenize differently, but the estimate is close enough for logging.
func CountTokens(messages ...string) (int, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range messages {
		total += len(enc.Encode(m, nil, nil))
	}
	return total, nil
}
