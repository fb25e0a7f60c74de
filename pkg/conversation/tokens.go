package conversation

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	tokenCodecOnce sync.Once
	tokenCodec     tokenizer.Codec
	tokenCodecErr  error
)

func getTokenCodec() (tokenizer.Codec, error) {
	tokenCodecOnce.Do(func() {
		tokenCodec, tokenCodecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return tokenCodec, tokenCodecErr
}

// CountTokens returns the cl100k token count of a string.
func CountTokens(text string) (int, error) {
	codec, err := getTokenCodec()
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
