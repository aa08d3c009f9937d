package main

import (
	"flag"
	"log"
	"os"

	"github.com/wbrown/bert_prep/resources"
	"go.uber.org/zap"
)

func main() {
	modelId := flag.String("model", "",
		"model URL, path, or huggingface id to fetch")
	destPath := flag.String("dest", "./",
		"where to download the model to")
	withWeights := flag.Bool("weights", false,
		"also fetch model weights, not just the tokenizer files")
	flag.Parse()
	if *modelId == "" {
		flag.Usage()
		log.Fatal("Must provide -model")
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if err := os.MkdirAll(*destPath, 0755); err != nil {
		log.Fatal(err)
	}
	level := resources.RESOURCE_DERIVED
	if *withWeights {
		level = resources.RESOURCE_MODEL
	}
	rsrcs, rsrcErr := resources.ResolveResources(*modelId, *destPath, level,
		logger)
	if rsrcErr != nil {
		log.Fatalf("Error downloading model resources: %s", rsrcErr)
	}
	defer rsrcs.Cleanup()
	for name := range *rsrcs {
		logger.Info("Resolved resource", zap.String("resource", name))
	}
}
