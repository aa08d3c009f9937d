package features

import (
	"fmt"
	"sort"
)

// DefaultLabelValues are the star ratings a review can carry.
var DefaultLabelValues = []int{1, 2, 3, 4, 5}

// UnknownLabelError is returned when a label is outside the LabelMap.
type UnknownLabelError struct {
	Label    int
	ReviewId string
}

func (err *UnknownLabelError) Error() string {
	if err.ReviewId != "" {
		return fmt.Sprintf("label %d of review %s is not a known label",
			err.Label, err.ReviewId)
	}
	return fmt.Sprintf("label %d is not a known label", err.Label)
}

// LabelMap maps an ordered set of label values onto dense indices starting
// at zero. It is immutable once built.
type LabelMap struct {
	values []int
	index  map[int]int64
}

// NewLabelMap builds a LabelMap over `values` in ascending order.
func NewLabelMap(values []int) (*LabelMap, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("label map needs at least one label")
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	index := make(map[int]int64, len(sorted))
	for idx, value := range sorted {
		if _, dup := index[value]; dup {
			return nil, fmt.Errorf("duplicate label %d", value)
		}
		index[value] = int64(idx)
	}
	return &LabelMap{values: sorted, index: index}, nil
}

// DefaultLabelMap maps ratings 1..5 onto 0..4.
func DefaultLabelMap() *LabelMap {
	labels, _ := NewLabelMap(DefaultLabelValues)
	return labels
}

func (labels *LabelMap) Index(label int) (int64, error) {
	idx, ok := labels.index[label]
	if !ok {
		return 0, &UnknownLabelError{Label: label}
	}
	return idx, nil
}

func (labels *LabelMap) Label(index int64) (int, error) {
	if index < 0 || index >= int64(len(labels.values)) {
		return 0, fmt.Errorf("label index %d out of range [0, %d)", index,
			len(labels.values))
	}
	return labels.values[index], nil
}

func (labels *LabelMap) Contains(label int) bool {
	_, ok := labels.index[label]
	return ok
}

// Values returns a copy of the labels in index order.
func (labels *LabelMap) Values() []int {
	return append([]int(nil), labels.values...)
}

func (labels *LabelMap) Len() int {
	return len(labels.values)
}
