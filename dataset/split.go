package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// fractionTolerance absorbs float noise such as `1 - 0.9` so it never
// rounds a partition up by a whole row.
const fractionTolerance = 1e-9

// Fractions are the requested partition sizes. Validation and Test together
// describe the holdout `1 - Train`; Test is carved from the holdout as the
// fraction `Test / (1 - Train)`.
type Fractions struct {
	Train      float64 `yaml:"train"`
	Validation float64 `yaml:"validation"`
	Test       float64 `yaml:"test"`
}

// DefaultFractions is a 90/5/5 split.
var DefaultFractions = Fractions{Train: 0.90, Validation: 0.05, Test: 0.05}

func (fractions Fractions) Holdout() float64 {
	return 1 - fractions.Train
}

// TestOfHoldout is the share of the holdout that goes to Test.
func (fractions Fractions) TestOfHoldout() float64 {
	return fractions.Test / fractions.Holdout()
}

func (fractions Fractions) Validate() error {
	if fractions.Train <= 0 || fractions.Validation <= 0 ||
		fractions.Test <= 0 {
		return fmt.Errorf("split fractions must be positive, got "+
			"train=%g validation=%g test=%g", fractions.Train,
			fractions.Validation, fractions.Test)
	}
	if fractions.Train >= 1 {
		return fmt.Errorf("train fraction must be below 1, got %g",
			fractions.Train)
	}
	if fractions.Test > fractions.Holdout()+fractionTolerance {
		return fmt.Errorf("test fraction %g exceeds the holdout %g",
			fractions.Test, fractions.Holdout())
	}
	return nil
}

// Partitions are disjoint and together hold every input row.
type Partitions struct {
	Train      []Review
	Validation []Review
	Test       []Review
}

func (partitions Partitions) Len() int {
	return len(partitions.Train) + len(partitions.Validation) +
		len(partitions.Test)
}

// Split makes two stratified cuts: the holdout off the input, then the test
// set off the holdout. The generator is seeded once and consumed in a fixed
// order, so equal inputs give equal partitions.
func Split(reviews []Review, fractions Fractions, seed int64) (Partitions,
	error) {
	if err := fractions.Validate(); err != nil {
		return Partitions{}, err
	}
	rng := rand.New(rand.NewSource(seed))
	train, holdout := stratifiedSplit(reviews, fractions.Holdout(), rng)
	validation, test := stratifiedSplit(holdout, fractions.TestOfHoldout(),
		rng)
	return Partitions{Train: train, Validation: validation, Test: test}, nil
}

// holdoutSize is `ceil(fraction * n)` clamped to [0, n].
func holdoutSize(fraction float64, n int) int {
	size := int(math.Ceil(fraction*float64(n) - fractionTolerance))
	if size < 0 {
		return 0
	}
	if size > n {
		return n
	}
	return size
}

// allocate spreads `total` holdout rows over the label groups in proportion
// to their sizes. Floors are taken first and the rest goes to the largest
// remainders, ties broken by larger group and then lower label.
func allocate(groups map[int][]Review, labels []int, total int,
	n int) map[int]int {
	type share struct {
		label     int
		size      int
		remainder float64
	}
	allocation := make(map[int]int, len(labels))
	shares := make([]share, 0, len(labels))
	assigned := 0
	for _, label := range labels {
		size := len(groups[label])
		exact := float64(size) * float64(total) / float64(n)
		floor := int(math.Floor(exact + fractionTolerance))
		if floor > size {
			floor = size
		}
		allocation[label] = floor
		assigned += floor
		shares = append(shares, share{label, size, exact - float64(floor)})
	}
	sort.SliceStable(shares, func(i, j int) bool {
		if math.Abs(shares[i].remainder-shares[j].remainder) >
			fractionTolerance {
			return shares[i].remainder > shares[j].remainder
		}
		if shares[i].size != shares[j].size {
			return shares[i].size > shares[j].size
		}
		return shares[i].label < shares[j].label
	})
	for assigned < total {
		progressed := false
		for _, s := range shares {
			if assigned >= total {
				break
			}
			if allocation[s.label] < s.size {
				allocation[s.label]++
				assigned++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return allocation
}

// stratifiedSplit moves `ceil(fraction * n)` rows into the second result,
// taking from every label in proportion to its share of the input. Both
// results come back shuffled.
func stratifiedSplit(reviews []Review, fraction float64,
	rng *rand.Rand) ([]Review, []Review) {
	n := len(reviews)
	if n == 0 {
		return []Review{}, []Review{}
	}
	total := holdoutSize(fraction, n)
	groups, labels := groupByLabel(reviews)
	allocation := allocate(groups, labels, total, n)

	kept := make([]Review, 0, n-total)
	taken := make([]Review, 0, total)
	for _, label := range labels {
		group := groups[label]
		take := allocation[label]
		for rank, idx := range rng.Perm(len(group)) {
			if rank < take {
				taken = append(taken, group[idx])
			} else {
				kept = append(kept, group[idx])
			}
		}
	}
	rng.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })
	rng.Shuffle(len(taken), func(i, j int) {
		taken[i], taken[j] = taken[j], taken[i]
	})
	return kept, taken
}
