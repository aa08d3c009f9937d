package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/wbrown/bert_prep"
	"github.com/wbrown/bert_prep/features"
	"github.com/wbrown/bert_prep/tfrecord"
	"github.com/wbrown/bert_prep/types"
	"go.uber.org/zap"
)

func main() {
	inputTokenizerId := flag.String("tokenizer", bert_prep.DefaultVocabId,
		"vocabulary the records were encoded with")
	inputFile := flag.String("input", "",
		"tfrecord file to decode, gzipped if it ends in .gz")
	outputFile := flag.String("output", "",
		"file to write decoded records to, stdout if empty")
	limit := flag.Int("limit", 0, "stop after this many records, 0 for all")
	flag.Parse()

	if *inputFile == "" {
		flag.Usage()
		log.Fatal("Must provide -input")
	}
	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist")
	}

	tokenizer, err := bert_prep.NewEncoder(*inputTokenizerId, "",
		zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}
	labels := features.DefaultLabelMap()

	inputFileHandle, err := os.Open(*inputFile)
	if err != nil {
		log.Fatal(err)
	}
	defer inputFileHandle.Close()
	var source io.Reader = inputFileHandle
	if strings.HasSuffix(*inputFile, ".gz") {
		gz, gzErr := gzip.NewReader(inputFileHandle)
		if gzErr != nil {
			log.Fatal(gzErr)
		}
		defer gz.Close()
		source = gz
	}

	var sink io.Writer = os.Stdout
	if *outputFile != "" {
		outputFileHandle, err := os.Create(*outputFile)
		if err != nil {
			log.Fatal(err)
		}
		defer outputFileHandle.Close()
		sink = outputFileHandle
	}
	out := bufio.NewWriter(sink)
	defer out.Flush()

	reader := tfrecord.NewReader(source)
	for idx := 0; *limit == 0 || idx < *limit; idx++ {
		example, err := reader.NextExample()
		if err == io.EOF {
			break
		} else if err != nil {
			out.Flush()
			log.Fatalf("record %d: %v", idx, err)
		}
		record, err := features.FromExample(example)
		if err != nil {
			out.Flush()
			log.Fatalf("record %d: %v", idx, err)
		}
		rating, labelErr := labels.Label(record.LabelId)
		if labelErr != nil {
			out.Flush()
			log.Fatalf("record %d: %v", idx, labelErr)
		}
		tokens, tokensErr := types.TokensFromInt64s(record.InputIds)
		if tokensErr != nil {
			out.Flush()
			log.Fatalf("record %d: %v", idx, tokensErr)
		}
		length := 0
		for _, bit := range record.InputMask {
			length += int(bit)
		}
		fmt.Fprintf(out, "%d\tstar_rating=%d\tlabel_id=%d\ttokens=%d\t%s\n",
			idx, rating, record.LabelId, length, tokenizer.Decode(&tokens))
	}
}
