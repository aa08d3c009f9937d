package dataset

import (
	"math/rand"
	"sort"
)

// DefaultSeed matches the fixed random state of the original job.
const DefaultSeed int64 = 27

// LabelCounts returns how many reviews carry each rating.
func LabelCounts(reviews []Review) map[int]int {
	counts := make(map[int]int, 5)
	for _, review := range reviews {
		counts[review.StarRating]++
	}
	return counts
}

// groupByLabel buckets reviews by rating, keeping input order inside each
// bucket, and returns the ratings in ascending order.
func groupByLabel(reviews []Review) (map[int][]Review, []int) {
	groups := make(map[int][]Review, 5)
	for _, review := range reviews {
		groups[review.StarRating] = append(groups[review.StarRating], review)
	}
	labels := make([]int, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	return groups, labels
}

// sample draws n rows from group without replacement.
func sample(group []Review, n int, rng *rand.Rand) []Review {
	picked := make([]Review, 0, n)
	for _, idx := range rng.Perm(len(group))[:n] {
		picked = append(picked, group[idx])
	}
	return picked
}

// Balance downsamples every rating group to the size of the smallest one.
// Only ratings that occur are considered, so a shard without one-star
// reviews is balanced over the other four. Each group is sampled with its
// own generator seeded by `seed`, which keeps a group's sample independent
// of the other groups.
func Balance(reviews []Review, seed int64) []Review {
	groups, labels := groupByLabel(reviews)
	if len(labels) == 0 {
		return []Review{}
	}
	minority := len(groups[labels[0]])
	for _, label := range labels[1:] {
		if size := len(groups[label]); size < minority {
			minority = size
		}
	}
	balanced := make([]Review, 0, minority*len(labels))
	for _, label := range labels {
		rng := rand.New(rand.NewSource(seed))
		balanced = append(balanced, sample(groups[label], minority, rng)...)
	}
	return balanced
}
