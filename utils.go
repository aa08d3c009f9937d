package bert_prep

import "fmt"

type Padding uint

const (
	PadRight Padding = iota
	PadLeft  Padding = iota
)

func (padding Padding) String() string {
	switch padding {
	case PadRight:
		return "right"
	case PadLeft:
		return "left"
	}
	return fmt.Sprintf("Padding(%d)", uint(padding))
}

// ParsePadding maps a padding side name to a Padding policy.
func ParsePadding(side string) (Padding, error) {
	switch side {
	case "", "right":
		return PadRight, nil
	case "left":
		return PadLeft, nil
	}
	return PadRight, fmt.Errorf("invalid padding side: %s", side)
}

// Pad fills tokens out to `length` with the pad token on the side given by
// `padding`, returning the padded tokens and their attention mask. Tokens
// longer than `length` are truncated from the end.
func (encoder *BertEncoder) Pad(tokens Tokens, length int,
	padding Padding) (Tokens, Mask) {
	if len(tokens) > length {
		tokens = tokens[:length]
	}
	padSize := length - len(tokens)
	padded := make(Tokens, 0, length)
	mask := make(Mask, 0, length)
	if padding == PadLeft {
		for padIdx := 0; padIdx < padSize; padIdx++ {
			padded = append(padded, encoder.PadToken)
			mask = append(mask, 0)
		}
	}
	for _, token := range tokens {
		padded = append(padded, token)
		mask = append(mask, 1)
	}
	if padding != PadLeft {
		for padIdx := 0; padIdx < padSize; padIdx++ {
			padded = append(padded, encoder.PadToken)
			mask = append(mask, 0)
		}
	}
	return padded, mask
}
