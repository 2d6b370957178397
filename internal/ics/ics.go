// Package ics converts iCalendar text to a property tree and back.
//
// The tree keeps only what the todo layer needs: scalar values, repeated
// scalar values and nested BEGIN/END blocks. Parameters stay part of the key
// ("DUE;VALUE=DATE") and values are not unescaped.
package ics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxLineOctets is the folding limit for content lines.
const MaxLineOctets = 75

// ErrUnmatchedEnd is returned when an END line has no open block.
var ErrUnmatchedEnd = errors.New("ics: END without matching BEGIN")

// Kind tells which shape a Value holds.
type Kind int

const (
	KindText Kind = iota
	KindList
	KindBlocks
)

// Value is a scalar, a list of scalars from repeated lines, or a list of
// nested blocks.
type Value struct {
	Kind   Kind
	Text   string
	List   []string
	Blocks []*Node
}

// Node is one level of the tree. Keys keep their insertion order.
type Node struct {
	keys   []string
	values map[string]*Value
}

// NewNode returns an empty node.
func NewNode() *Node {
	return &Node{values: make(map[string]*Value)}
}

// Keys returns the keys in insertion order.
func (n *Node) Keys() []string {
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Len returns the number of keys.
func (n *Node) Len() int {
	return len(n.keys)
}

// Get returns the value stored under key.
func (n *Node) Get(key string) (*Value, bool) {
	v, ok := n.values[key]
	return v, ok
}

// Has reports whether key is present.
func (n *Node) Has(key string) bool {
	_, ok := n.values[key]
	return ok
}

// Text returns the scalar under key. For a repeated key it returns the first
// value. Blocks and missing keys give "".
func (n *Node) Text(key string) string {
	v, ok := n.values[key]
	if !ok {
		return ""
	}
	switch v.Kind {
	case KindText:
		return v.Text
	case KindList:
		if len(v.List) > 0 {
			return v.List[0]
		}
	}
	return ""
}

// Blocks returns the nested blocks under key.
func (n *Node) Blocks(key string) []*Node {
	v, ok := n.values[key]
	if !ok || v.Kind != KindBlocks {
		return nil
	}
	return v.Blocks
}

// Set stores a scalar, replacing whatever key held. An existing key keeps its
// position.
func (n *Node) Set(key, text string) {
	n.put(key, &Value{Kind: KindText, Text: text})
}

// SetList stores a repeated scalar.
func (n *Node) SetList(key string, items ...string) {
	list := make([]string, len(items))
	copy(list, items)
	n.put(key, &Value{Kind: KindList, List: list})
}

// Add appends text under key, turning a scalar into a list on the second
// value.
func (n *Node) Add(key, text string) {
	v, ok := n.values[key]
	if !ok || v.Kind == KindBlocks {
		n.Set(key, text)
		return
	}
	if v.Kind == KindText {
		v.Kind = KindList
		v.List = []string{v.Text}
		v.Text = ""
	}
	v.List = append(v.List, text)
}

// AppendBlock adds child to the block list under key.
func (n *Node) AppendBlock(key string, child *Node) {
	v, ok := n.values[key]
	if !ok || v.Kind != KindBlocks {
		v = &Value{Kind: KindBlocks}
		n.put(key, v)
	}
	v.Blocks = append(v.Blocks, child)
}

// Delete removes key.
func (n *Node) Delete(key string) {
	if _, ok := n.values[key]; !ok {
		return
	}
	delete(n.values, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
}

func (n *Node) put(key string, v *Value) {
	if n.values == nil {
		n.values = make(map[string]*Value)
	}
	if _, ok := n.values[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.values[key] = v
}

// Clone returns a deep copy of the tree.
func (n *Node) Clone() *Node {
	out := NewNode()
	for _, k := range n.keys {
		v := n.values[k]
		c := &Value{Kind: v.Kind, Text: v.Text}
		if v.List != nil {
			c.List = append([]string(nil), v.List...)
		}
		for _, b := range v.Blocks {
			c.Blocks = append(c.Blocks, b.Clone())
		}
		out.put(k, c)
	}
	return out
}

// Equal reports whether two trees hold the same keys, order and values.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if len(n.keys) != len(other.keys) {
		return false
	}
	for i, k := range n.keys {
		if other.keys[i] != k {
			return false
		}
		a, b := n.values[k], other.values[k]
		if a.Kind != b.Kind || a.Text != b.Text || len(a.List) != len(b.List) || len(a.Blocks) != len(b.Blocks) {
			return false
		}
		for j := range a.List {
			if a.List[j] != b.List[j] {
				return false
			}
		}
		for j := range a.Blocks {
			if !a.Blocks[j].Equal(b.Blocks[j]) {
				return false
			}
		}
	}
	return true
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Convert parses iCalendar text. Lines may end in CR, LF or CRLF.
//
// A line starting with a space continues the value most recently assigned by
// a KEY:value line. BEGIN and END do not count as assignments, so a
// continuation right after BEGIN extends the parent's pending value.
// Lines without a colon are skipped.
func Convert(text string) (*Node, error) {
	root := NewNode()
	current := root
	var parents []*Node

	var (
		lastNode *Node
		lastKey  string
	)

	for _, line := range strings.Split(newlines.Replace(text), "\n") {
		if strings.HasPrefix(line, " ") {
			if lastNode != nil {
				lastNode.extend(lastKey, line[1:])
			}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch key {
		case "BEGIN":
			child := NewNode()
			current.AppendBlock(value, child)
			parents = append(parents, current)
			current = child
		case "END":
			if len(parents) == 0 {
				return nil, ErrUnmatchedEnd
			}
			current = parents[len(parents)-1]
			parents = parents[:len(parents)-1]
			// The closed block's values are out of reach.
			lastNode = nil
		default:
			current.Add(key, value)
			lastNode, lastKey = current, key
		}
	}

	return root, nil
}

// extend appends s to the last value assigned under key.
func (n *Node) extend(key, s string) {
	v, ok := n.values[key]
	if !ok {
		return
	}
	switch v.Kind {
	case KindText:
		v.Text += s
	case KindList:
		if len(v.List) > 0 {
			v.List[len(v.List)-1] += s
		}
	}
}

// Revert renders a tree as iCalendar text joined with "\n". Block lists are
// written as BEGIN/END pairs, repeated scalars (RDATE and friends) as
// repeated lines. Every content line is folded at MaxLineOctets.
func Revert(n *Node) string {
	var lines []string
	n.revert(&lines)
	return strings.Join(lines, "\n")
}

func (n *Node) revert(lines *[]string) {
	for _, key := range n.keys {
		v := n.values[key]
		switch v.Kind {
		case KindBlocks:
			for _, child := range v.Blocks {
				*lines = append(*lines, "BEGIN:"+key)
				child.revert(lines)
				*lines = append(*lines, "END:"+key)
			}
		case KindList:
			for _, item := range v.List {
				*lines = append(*lines, fold(key+":"+item)...)
			}
		default:
			*lines = append(*lines, fold(key+":"+v.Text)...)
		}
	}
}

// fold splits a content line into segments of at most MaxLineOctets octets.
// Continuation segments start with a single space, which counts toward the
// limit. Multi-byte characters are never split.
func fold(line string) []string {
	if len(line) <= MaxLineOctets {
		return []string{line}
	}
	var out []string
	limit := MaxLineOctets
	prefix := ""
	for len(line) > 0 {
		cut := limit
		if cut >= len(line) {
			cut = len(line)
		} else {
			// A rune spans at most UTFMax bytes; without a rune start that
			// close the bytes are not UTF-8 and any cut will do.
			for i := 1; i < utf8.UTFMax && !utf8.RuneStart(line[cut]); i++ {
				cut--
			}
			if !utf8.RuneStart(line[cut]) {
				cut = limit
			}
		}
		out = append(out, prefix+line[:cut])
		line = line[cut:]
		prefix = " "
		limit = MaxLineOctets - 1
	}
	return out
}
