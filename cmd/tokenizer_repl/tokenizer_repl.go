package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/wbrown/bert_prep"
	"go.uber.org/zap"
)

// A REPL for checking how the tokenizer encodes review text.

func main() {
	tokenizerId := flag.String("tokenizer", bert_prep.DefaultVocabId,
		"vocabulary: local directory, URL, or huggingface id")
	cacheDir := flag.String("cache_dir", "",
		"where downloaded vocabularies are kept")
	maxSeqLength := flag.Int("max_seq_length", 64,
		"sequence length to encode to, 0 for no padding or truncation")
	side := flag.String("padding", "right", "side to pad on [right, left]")
	flag.Parse()

	padding, padErr := bert_prep.ParsePadding(*side)
	if padErr != nil {
		log.Fatal(padErr)
	}
	tokenizer, err := bert_prep.NewEncoder(*tokenizerId, *cacheDir,
		zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(">>> ")
		input, err := reader.ReadString('\n')
		if err == io.EOF {
			return
		} else if err != nil {
			log.Fatal(err)
		}
		// Remove trailing newline and replace \n with newline.
		input = strings.Replace(strings.TrimRight(input, "\r\n"), "\\n",
			"\n", -1)

		if *maxSeqLength <= 0 {
			tokens := tokenizer.Encode(&input)
			fmt.Printf("%v\n", *tokens)
			for _, piece := range tokenizer.Tokenize(input) {
				fmt.Printf("|%s", piece)
			}
			fmt.Printf("\n")
			continue
		}
		tokens, mask, encodeErr := tokenizer.EncodePlus(input, *maxSeqLength,
			padding)
		if encodeErr != nil {
			fmt.Println(encodeErr)
			continue
		}
		fmt.Printf("input_ids:  %v\n", tokens)
		fmt.Printf("input_mask: %v\n", mask)
		fmt.Printf("decoded:    %s\n", tokenizer.Decode(&tokens))
	}
}
