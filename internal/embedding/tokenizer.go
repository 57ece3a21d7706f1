package embedding

import (
	"strings"

	"github.com/zeebo/xxh3"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// BERT special tokens and the vocabulary range used for hashed word IDs.
const (
	tokenCLS  = 101
	tokenSEP  = 102
	vocabBase = 1000
	vocabSize = 29000
)

// HashTokenizer maps lowercased words to hashed IDs inside the BERT vocabulary range. It is a
// fallback for models shipped without a vocabulary file.
type HashTokenizer struct{}

// Tokenize produces padded token IDs of length maxTokens.
func (HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = vocabBase + int64(xxh3.HashString(word)%vocabSize)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}
