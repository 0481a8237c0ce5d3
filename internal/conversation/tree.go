// ABOUTME: Branching message tree built from parent-linked messages
// ABOUTME: Flattening, sibling navigation and subtree collection for one conversation

package conversation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/logicleai/logicle/internal/store"
)

// ErrMessageNotFound indicates a message id is not part of the tree.
var ErrMessageNotFound = errors.New("message not in tree")

// Tree is the branching structure of one conversation's messages.
// Messages link to their parent; siblings are alternative branches
// created by edits and retries. A conversation may hold several roots.
type Tree struct {
	byID     map[string]*store.Message
	children map[string][]*store.Message // parent id -> children, "" for roots
}

// NewTree indexes a conversation's messages. Children are kept in
// sentAt order so sibling navigation is deterministic.
func NewTree(msgs []*store.Message) *Tree {
	t := &Tree{
		byID:     make(map[string]*store.Message, len(msgs)),
		children: make(map[string][]*store.Message),
	}
	for _, m := range msgs {
		t.byID[m.ID] = m
		t.children[parentKey(m)] = append(t.children[parentKey(m)], m)
	}
	for _, siblings := range t.children {
		sort.SliceStable(siblings, func(i, j int) bool {
			return siblings[i].SentAt.Before(siblings[j].SentAt)
		})
	}
	return t
}

func parentKey(m *store.Message) string {
	if m.Parent == nil {
		return ""
	}
	return *m.Parent
}

// Get returns a message by id.
func (t *Tree) Get(id string) (*store.Message, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// Roots returns the messages without a parent, in sentAt order.
func (t *Tree) Roots() []*store.Message {
	return t.children[""]
}

// Flatten walks from the given leaf up to its root and returns the
// path root-first. The result is strictly increasing in sentAt.
func (t *Tree) Flatten(leafID string) ([]*store.Message, error) {
	var path []*store.Message
	id := leafID
	for id != "" {
		m, ok := t.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMessageNotFound, id)
		}
		path = append(path, m)
		if len(path) > len(t.byID) {
			return nil, fmt.Errorf("parent cycle at message %q", id)
		}
		id = parentKey(m)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// SiblingsOf returns all messages sharing a parent with the given
// message, itself included, in sentAt order.
func (t *Tree) SiblingsOf(id string) ([]*store.Message, error) {
	m, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMessageNotFound, id)
	}
	return t.children[parentKey(m)], nil
}

// LatestLeaf descends from the given message, always taking the most
// recent child, and returns the leaf reached. Jumping to a sibling
// branch lands on LatestLeaf(sibling).
func (t *Tree) LatestLeaf(id string) (*store.Message, error) {
	m, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMessageNotFound, id)
	}
	for {
		kids := t.children[m.ID]
		if len(kids) == 0 {
			return m, nil
		}
		m = kids[len(kids)-1]
	}
}

// Leaf returns the most recent leaf of the whole conversation, or nil
// when the conversation is empty.
func (t *Tree) Leaf() *store.Message {
	roots := t.Roots()
	if len(roots) == 0 {
		return nil
	}
	var leaf *store.Message
	for _, root := range roots {
		l, err := t.LatestLeaf(root.ID)
		if err != nil {
			continue
		}
		if leaf == nil || l.SentAt.After(leaf.SentAt) {
			leaf = l
		}
	}
	return leaf
}

// Descendants collects the ids of a message's whole subtree, the
// message itself included. Used for cascading deletes.
func (t *Tree) Descendants(id string) []string {
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		for _, child := range t.children[cur] {
			queue = append(queue, child.ID)
		}
	}
	return out
}

// AllIDs returns every message id in the tree.
func (t *Tree) AllIDs() []string {
	out := make([]string, 0, len(t.byID))
	for id := range t.byID {
		out = append(out, id)
	}
	return out
}
