package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
)

var encoding = sync.OnceValue(func() *tiktoken.Tiktoken {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		logger.Warn("[AI] Tokenizer unavailable, approximating token counts", "err", err)
		return nil
	}
	return enc
})

// CountTokens counts o200k_base tokens. Without the encoding it approximates
// four characters per token.
func CountTokens(s string) int {
	if enc := encoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return (utf8.RuneCountInString(s) + 3) / 4
}
