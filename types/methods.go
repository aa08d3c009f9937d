package types

import (
	"fmt"
	"math"
)

// ToInt64s widens tokens into the int64 representation used by
// `tf.train.Int64List`.
func (tokens Tokens) ToInt64s() []int64 {
	out := make([]int64, len(tokens))
	for idx := range tokens {
		out[idx] = int64(tokens[idx])
	}
	return out
}

// TokensFromInt64s narrows int64 values back into Tokens, failing on values
// that cannot be a vocabulary id.
func TokensFromInt64s(values []int64) (Tokens, error) {
	tokens := make(Tokens, 0, len(values))
	for idx, v := range values {
		if v < 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("value %d at index %d is not a valid "+
				"token id", v, idx)
		}
		tokens = append(tokens, Token(v))
	}
	return tokens, nil
}

func (mask Mask) ToInt64s() []int64 {
	out := make([]int64, len(mask))
	for idx := range mask {
		out[idx] = int64(mask[idx])
	}
	return out
}

// Ones returns the number of attended positions in the mask.
func (mask Mask) Ones() int {
	ct := 0
	for _, m := range mask {
		if m == 1 {
			ct++
		}
	}
	return ct
}

// Zeros returns a zero-filled int64 slice of length n, the segment ids of a
// single-sequence input.
func Zeros(n int) []int64 {
	return make([]int64, n)
}
