package provider

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Tokenizer estimates token counts for backends that do not report usage.
type Tokenizer interface {
	Count(text string) int
}

// approxTokenizer uses the 100 tokens per 75 words rule of thumb.
type approxTokenizer struct{}

func (approxTokenizer) Count(text string) int {
	words := len(strings.Fields(text))
	return (words*100 + 74) / 75
}

type tiktokenTokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			log.Warn().Err(err).Str("encoding", t.encoding).Msg("tokenizer unavailable, using word estimate")
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return approxTokenizer{}.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenizer returns a BPE tokenizer for the named encoding (for example
// cl100k_base), or the word estimate when encoding is empty.
func NewTokenizer(encoding string) Tokenizer {
	if encoding == "" {
		return approxTokenizer{}
	}
	return &tiktokenTokenizer{encoding: encoding}
}
