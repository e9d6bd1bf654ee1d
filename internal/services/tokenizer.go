package services

import (
	"errors"

	"github.com/daulet/tokenizers"
)

type Tokenizer struct {
	tk *tokenizers.Tokenizer
}

func NewTokenizer(path string) (*Tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{tk: tk}, nil
}

// Encode tokenizes text into fixed-length input ids and attention mask.
// Padding uses id 0. Over-long input is cut to maxLen with the
// end-of-text token kept in the last slot, since CLIP text towers pool
// at that position.
func (t *Tokenizer) Encode(text string, maxLen int) ([]int64, []int64, error) {
	ids, _ := t.tk.Encode(text, true)
	if len(ids) == 0 {
		return nil, nil, errors.New("tokenizer returned no tokens")
	}
	inputIDs, mask := PadIDs(ids, maxLen)
	return inputIDs, mask, nil
}

// PadIDs lays ids out in a maxLen window.
func PadIDs(ids []uint32, maxLen int) ([]int64, []int64) {
	inputIDs := make([]int64, maxLen)
	mask := make([]int64, maxLen)

	n := len(ids)
	if n > maxLen {
		n = maxLen
	}
	for i := 0; i < n; i++ {
		inputIDs[i] = int64(ids[i])
		mask[i] = 1
	}
	if len(ids) > maxLen && maxLen > 0 {
		inputIDs[maxLen-1] = int64(ids[len(ids)-1])
	}

	return inputIDs, mask
}

func (t *Tokenizer) Close() error {
	return t.tk.Close()
}
