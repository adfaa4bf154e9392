// Package tiktoken counts tokens with the cl100k_base BPE vocabulary.
package tiktoken

import (
	"fmt"

	tk "github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

type Tokenizer struct {
	enc *tk.Tiktoken
}

func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tk.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count treats special-token text as ordinary text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
