package bert_prep

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru"
	"github.com/wbrown/bert_prep/resources"
	"github.com/wbrown/bert_prep/types"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const WORDPIECE_LRU_SZ = 65536
const MAX_INPUT_CHARS_PER_WORD = 100
const CONTINUATION_PREFIX = "##"
const DefaultVocabId = "distilbert-base-uncased"

// unknownRune stands in for control characters and undecodable input; it is
// never in a BERT vocabulary so WordPiece maps it to the unknown token.
const unknownRune = utf8.RuneError

type Token = types.Token
type Tokens = types.Tokens
type Mask = types.Mask

type BertEncoder struct {
	Encoder        map[string]Token
	Decoder        map[Token]string
	Specials       map[string]Token
	specialsTree   *RuneNode
	Cache          *lru.ARCCache
	UnkToken       Token
	ClsToken       Token
	SepToken       Token
	PadToken       Token
	MaskToken      Token
	ModelMaxLength int
	lowerCase      bool
	stripAccents   bool
	chineseChars   bool
	continuation   string
	maxWordChars   int
	lruHits        atomic.Int64
	lruMisses      atomic.Int64
}

// NewEncoder
// Returns a BertEncoder with the vocabulary loaded for that vocabulary id,
// which may be a local directory, a URL, or a huggingface.co model id.
func NewEncoder(vocabId string, cacheDir string,
	logger *zap.Logger) (*BertEncoder, error) {
	config, rsrcsPtr, vocabErr := resources.ResolveVocabId(vocabId, cacheDir,
		logger)
	if vocabErr != nil {
		return nil, vocabErr
	}
	defer rsrcsPtr.Cleanup()
	rsrcs := *rsrcsPtr

	vocabTxt, ok := rsrcs["vocab.txt"]
	if !ok || vocabTxt.Data == nil {
		return nil, fmt.Errorf("vocab.txt not found for vocabId: %s", vocabId)
	}
	vocab, readErr := ReadVocab(*vocabTxt.Data)
	if readErr != nil {
		return nil, readErr
	}
	return NewEncoderFromVocab(vocab, *config)
}

// ReadVocab splits a `vocab.txt` blob into tokens. The token id is the line
// number, so blank lines still consume an id.
func ReadVocab(data []byte) ([]string, error) {
	vocab := make([]string, 0, 32768)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		vocab = append(vocab, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading vocab.txt: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab.txt is empty")
	}
	return vocab, nil
}

// NewEncoderFromVocab
// Builds a BertEncoder from an ordered vocabulary and tokenizer config.
func NewEncoderFromVocab(vocab []string,
	config resources.TokenizerConfig) (*BertEncoder, error) {
	encoderTokens := make(map[string]Token, len(vocab))
	tokensDecoder := make(map[Token]string, len(vocab))
	for idx, text := range vocab {
		if text == "" {
			continue
		}
		if _, seen := encoderTokens[text]; seen {
			continue
		}
		encoderTokens[text] = Token(idx)
		tokensDecoder[Token(idx)] = text
	}

	lookup := func(role string, text *string) (Token, error) {
		if text == nil {
			return 0, fmt.Errorf("no %s configured", role)
		}
		token, ok := encoderTokens[*text]
		if !ok {
			return 0, fmt.Errorf("%s `%s` is not in the vocabulary",
				role, *text)
		}
		return token, nil
	}
	unk, unkErr := lookup("unk_token", config.UnkToken)
	if unkErr != nil {
		return nil, unkErr
	}
	cls, clsErr := lookup("cls_token", config.ClsToken)
	if clsErr != nil {
		return nil, clsErr
	}
	sep, sepErr := lookup("sep_token", config.SepToken)
	if sepErr != nil {
		return nil, sepErr
	}
	pad, padErr := lookup("pad_token", config.PadToken)
	if padErr != nil {
		return nil, padErr
	}
	// The mask token is optional for classification vocabularies.
	mask, maskErr := lookup("mask_token", config.MaskToken)
	if maskErr != nil {
		mask = unk
	}

	specials := map[string]Token{
		*config.UnkToken: unk,
		*config.ClsToken: cls,
		*config.SepToken: sep,
		*config.PadToken: pad,
	}
	if maskErr == nil {
		specials[*config.MaskToken] = mask
	}
	specialsArr := make([]string, 0, len(specials))
	for special := range specials {
		specialsArr = append(specialsArr, special)
	}

	lowerCase := true
	if config.DoLowerCase != nil {
		lowerCase = *config.DoLowerCase
	}
	stripAccents := lowerCase
	if config.StripAccents != nil {
		stripAccents = *config.StripAccents
	}
	chineseChars := true
	if config.TokenizeChineseChars != nil {
		chineseChars = *config.TokenizeChineseChars
	}
	modelMaxLength := 512
	if config.ModelMaxLength != nil && *config.ModelMaxLength > 0 &&
		*config.ModelMaxLength < 1<<20 {
		modelMaxLength = *config.ModelMaxLength
	}

	cache, cacheErr := lru.NewARC(WORDPIECE_LRU_SZ)
	if cacheErr != nil {
		return nil, cacheErr
	}

	encoder := &BertEncoder{
		Encoder:        encoderTokens,
		Decoder:        tokensDecoder,
		Specials:       specials,
		specialsTree:   newRuneTree(specialsArr),
		Cache:          cache,
		UnkToken:       unk,
		ClsToken:       cls,
		SepToken:       sep,
		PadToken:       pad,
		MaskToken:      mask,
		ModelMaxLength: modelMaxLength,
		lowerCase:      lowerCase,
		stripAccents:   stripAccents,
		chineseChars:   chineseChars,
		continuation:   CONTINUATION_PREFIX,
		maxWordChars:   MAX_INPUT_CHARS_PER_WORD,
	}
	return encoder, nil
}

// LruHits and LruMisses report WordPiece cache effectiveness.
func (encoder *BertEncoder) LruHits() int64 {
	return encoder.lruHits.Load()
}

func (encoder *BertEncoder) LruMisses() int64 {
	return encoder.lruMisses.Load()
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

// isControl reports runes in the assigned "C" categories, apart from tab
// and line breaks.
// Surrogates never survive UTF-8 decoding and arrive as RuneError.
func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs)
}

// isPunctuation treats all non-alphanumeric ASCII as punctuation, even
// characters like `$` and `^` that unicode does not.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

// cleanText normalizes whitespace and isolates characters the vocabulary
// cannot represent, so they surface as unknown tokens instead of vanishing.
func (encoder *BertEncoder) cleanText(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == unknownRune || isControl(r):
			sb.WriteRune(' ')
			sb.WriteRune(unknownRune)
			sb.WriteRune(' ')
		case isWhitespace(r):
			sb.WriteRune(' ')
		case encoder.chineseChars && isChineseChar(r):
			sb.WriteRune(' ')
			sb.WriteRune(r)
			sb.WriteRune(' ')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func stripAccents(word string) string {
	if isASCII(word) {
		return word
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	stripped, _, err := transform.String(t, word)
	if err != nil {
		return word
	}
	return stripped
}

func splitOnPunctuation(word string) []string {
	out := make([]string, 0, 2)
	start := -1
	for idx, r := range word {
		if isPunctuation(r) {
			if start >= 0 {
				out = append(out, word[start:idx])
				start = -1
			}
			out = append(out, string(r))
		} else if start < 0 {
			start = idx
		}
	}
	if start >= 0 {
		out = append(out, word[start:])
	}
	return out
}

// splitWords performs BERT basic tokenization: special tokens are kept
// whole, the remaining text is cleaned, lowercased and accent-stripped when
// uncased, split on whitespace and then on punctuation.
func (encoder *BertEncoder) splitWords(text string) []string {
	words := make([]string, 0, len(text)/4+1)
	for _, segment := range encoder.specialsTree.split(text) {
		if segment.special {
			words = append(words, segment.text)
			continue
		}
		for _, word := range strings.Fields(encoder.cleanText(segment.text)) {
			if encoder.lowerCase {
				word = strings.ToLower(word)
			}
			if encoder.stripAccents {
				word = stripAccents(word)
			}
			if word == "" {
				continue
			}
			words = append(words, splitOnPunctuation(word)...)
		}
	}
	return words
}

// SplitWords splits a string into words according to BERT basic tokenizer
// rules.
func (encoder *BertEncoder) SplitWords(text *string) *[]string {
	words := encoder.splitWords(*text)
	return &words
}

// ToWordPiece
// Given a single pre-split word, performs greedy longest-match-first
// segmentation against the vocabulary and returns Tokens.
func (encoder *BertEncoder) ToWordPiece(word string) Tokens {
	if lookup, ok := encoder.Cache.Get(word); ok {
		encoder.lruHits.Add(1)
		return lookup.(Tokens)
	}
	encoder.lruMisses.Add(1)

	wordRunes := []rune(word)
	if len(wordRunes) > encoder.maxWordChars {
		tokens := Tokens{encoder.UnkToken}
		encoder.Cache.Add(word, tokens)
		return tokens
	}
	tokens := make(Tokens, 0, 4)
	start := 0
	for start < len(wordRunes) {
		end := len(wordRunes)
		found := false
		var current Token
		for start < end {
			sub := string(wordRunes[start:end])
			if start > 0 {
				sub = encoder.continuation + sub
			}
			if token, ok := encoder.Encoder[sub]; ok {
				current = token
				found = true
				break
			}
			end--
		}
		if !found {
			tokens = Tokens{encoder.UnkToken}
			break
		}
		tokens = append(tokens, current)
		start = end
	}
	encoder.Cache.Add(word, tokens)
	return tokens
}

// Tokenize returns the WordPiece strings for text, without special tokens.
func (encoder *BertEncoder) Tokenize(text string) []string {
	tokens := encoder.Encode(&text)
	pieces := make([]string, len(*tokens))
	for idx, token := range *tokens {
		pieces[idx] = encoder.Decoder[token]
	}
	return pieces
}

// Encode encodes a string into a sequence of tokens, without the sequence
// boundary tokens.
func (encoder *BertEncoder) Encode(text *string) *Tokens {
	encoded := make(Tokens, 0, len(*text)/3+1)
	for _, word := range encoder.splitWords(*text) {
		if special, isSpecial := encoder.Specials[word]; isSpecial {
			encoded = append(encoded, special)
			continue
		}
		encoded = append(encoded, encoder.ToWordPiece(word)...)
	}
	return &encoded
}

// EncodePlus encodes text as a single classification sequence of exactly
// `maxLength` tokens: `[CLS] pieces [SEP]`, truncated from the end and then
// padded according to `padding`. The mask marks the non-padding positions.
func (encoder *BertEncoder) EncodePlus(text string, maxLength int,
	padding Padding) (Tokens, Mask, error) {
	if maxLength <= 0 {
		return nil, nil, fmt.Errorf("max length must be positive, got %d",
			maxLength)
	}
	pieces := *encoder.Encode(&text)
	budget := maxLength - 2
	if budget < 0 {
		budget = 0
	}
	if len(pieces) > budget {
		pieces = pieces[:budget]
	}
	sequence := make(Tokens, 0, maxLength)
	sequence = append(sequence, encoder.ClsToken)
	sequence = append(sequence, pieces...)
	sequence = append(sequence, encoder.SepToken)
	// Only possible when maxLength < 2; the boundary tokens get cut too.
	if len(sequence) > maxLength {
		sequence = sequence[:maxLength]
	}
	tokens, mask := encoder.Pad(sequence, maxLength, padding)
	return tokens, mask, nil
}

// Get
// Looks up text in the Encoder, and returns the Token representation of it.
// If the text is not found, then nil is returned.
func (encoder *BertEncoder) Get(text string) *Token {
	if token, ok := encoder.Encoder[text]; !ok {
		return nil
	} else {
		return &token
	}
}

func (encoder *BertEncoder) isBoundary(token Token) bool {
	return token == encoder.PadToken || token == encoder.ClsToken ||
		token == encoder.SepToken
}

// Decode Tokens back into a string, dropping boundary and padding tokens and
// joining `##` continuations onto the preceding piece.
func (encoder *BertEncoder) Decode(encoded *Tokens) (text string) {
	var sb strings.Builder
	for _, token := range *encoded {
		if encoder.isBoundary(token) {
			continue
		}
		piece, ok := encoder.Decoder[token]
		if !ok {
			piece = encoder.Decoder[encoder.UnkToken]
		}
		if strings.HasPrefix(piece, encoder.continuation) && sb.Len() > 0 {
			sb.WriteString(piece[len(encoder.continuation):])
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(piece)
	}
	return sb.String()
}
