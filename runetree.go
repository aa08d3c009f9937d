package bert_prep

import (
	"sort"
	"strings"
)

type RuneNode struct {
	rune      rune               // The rune this node represents.
	runes     []rune             // The prior runes that led to this node.
	terminal  bool               // If this node is an absolute terminal node.
	childs    map[rune]*RuneNode // The child nodes.
	childsArr *[]*RuneNode       // The child nodes in an array, for precedence
}

func (root *RuneNode) evaluate(node *RuneNode, r rune) (*RuneNode, bool) {
	// If the node has an array of children, use that. The array exists if the
	// node has less than 10 children, and is used to speed up the evaluation
	// of the node.
	if node.childsArr != nil {
		children := *node.childsArr
		for _, child := range children {
			if child.rune == r {
				return child, child.terminal
			}
		}
	} else {
		child, ok := node.childs[r]
		if ok {
			return child, child.terminal
		}
	}
	return nil, false
}

// Represent the tree as a string by traversing the tree, and using tree
// characters to represent the tree structure.
func (node *RuneNode) string(level int) string {
	if node == nil {
		return ""
	}
	s := string(node.rune)
	if len(node.childs) == 1 {
		// Collapse chains of single children onto one line.
		for r := range node.childs {
			s += node.childs[r].string(level)
		}
		return s
	}
	level += 1
	s += "\n"

	keys := make([]rune, 0, len(node.childs))
	for r := range node.childs {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for idx, r := range keys {
		childPrefix := strings.Repeat("| ", level-1)
		// If we're the last child, then we prepend with a tree terminator.
		if idx == len(keys)-1 {
			childPrefix += "└─"
		} else {
			childPrefix += "├─"
		}
		s += childPrefix + node.childs[r].string(level)
	}
	return s
}

func (node *RuneNode) String() string {
	return node.string(0)
}

func newRuneTree(specials []string) *RuneNode {
	runeTree := &RuneNode{
		runes:  []rune{},
		childs: make(map[rune]*RuneNode, 0),
	}

	// Insert in a stable order so the child arrays are deterministic.
	sorted := append([]string(nil), specials...)
	sort.Strings(sorted)
	for _, k := range sorted {
		keyRunes := []rune(k)
		keyLen := len(keyRunes)
		node := runeTree
		for i := 0; i < keyLen; i++ {
			r := keyRunes[i]
			childNode, ok := node.childs[r]
			if !ok {
				children := make([]*RuneNode, 0)
				node.childs[r] = &RuneNode{
					rune:      r,
					runes:     keyRunes[:i+1],
					terminal:  i == keyLen-1,
					childs:    make(map[rune]*RuneNode, 0),
					childsArr: &children,
				}
			} else if i == keyLen-1 {
				childNode.terminal = true
			}
			if len(node.childs) > 10 {
				// If there are more than 10 children, we set the array pointer
				// to nil, so that we can use the map instead.
				node.childsArr = nil
			} else {
				if node.childsArr == nil {
					children := make([]*RuneNode, 0)
					node.childsArr = &children
				}
				if len(node.childs) != len(*node.childsArr) {
					*node.childsArr = append(*node.childsArr, node.childs[r])
				}
			}
			node = node.childs[r]
		}
	}
	return runeTree
}

// longestMatch walks the tree from the root over `text`, returning the
// length in runes of the longest special token that prefixes it, or 0.
func (root *RuneNode) longestMatch(text []rune) int {
	node := root
	matched := 0
	for idx, r := range text {
		var terminal bool
		node, terminal = root.evaluate(node, r)
		if node == nil {
			break
		}
		if terminal {
			matched = idx + 1
		}
	}
	return matched
}

type textSegment struct {
	text    string
	special bool
}

// split cuts text around every special token occurrence, preferring the
// longest special at each position.
func (root *RuneNode) split(text string) []textSegment {
	if len(root.childs) == 0 {
		return []textSegment{{text: text}}
	}
	textRunes := []rune(text)
	segments := make([]textSegment, 0, 1)
	begin := 0
	for idx := 0; idx < len(textRunes); {
		if matched := root.longestMatch(textRunes[idx:]); matched > 0 {
			if idx > begin {
				segments = append(segments,
					textSegment{text: string(textRunes[begin:idx])})
			}
			segments = append(segments, textSegment{
				text:    string(textRunes[idx : idx+matched]),
				special: true,
			})
			idx += matched
			begin = idx
			continue
		}
		idx++
	}
	if begin < len(textRunes) {
		segments = append(segments,
			textSegment{text: string(textRunes[begin:])})
	}
	return segments
}
