package types

type Token uint32
type Tokens []Token
type TokenMap map[string]Token

// Mask is an attention mask, 1 for positions the model attends to and 0 for
// padding.
type Mask []uint8
