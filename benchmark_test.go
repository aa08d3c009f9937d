package bert_prep

import (
	"strings"
	"testing"
)

var benchmarkReview = strings.Repeat(
	"I love it, very good book! This product is not worth the money. ", 16)

func BenchmarkBertEncoder_Encode(b *testing.B) {
	b.ReportAllocs()
	b.SetBytes(int64(len(benchmarkReview)))
	for i := 0; i < b.N; i++ {
		tinyEncoder.Encode(&benchmarkReview)
	}
}

func BenchmarkBertEncoder_EncodePlus(b *testing.B) {
	b.ReportAllocs()
	b.SetBytes(int64(len(benchmarkReview)))
	for i := 0; i < b.N; i++ {
		if _, _, err := tinyEncoder.EncodePlus(benchmarkReview, 64,
			PadRight); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBertEncoder_EncodePlusParallel(b *testing.B) {
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tinyEncoder.EncodePlus(benchmarkReview, 64, PadRight)
		}
	})
}
