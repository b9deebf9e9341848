// Package classify maps request paths to rate-limit categories.
package classify

import (
	"strings"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

// Classifier is a prefix table built once at startup. Lookup walks the path
// segment by segment, so classification cost is bounded by path depth, not by
// the number of configured patterns.
type Classifier struct {
	root *node
}

type node struct {
	children map[string]*node
	// category is set on terminal nodes; a match covers the whole subtree.
	category domain.Category
	terminal bool
}

// NewClassifier builds the table from exempt and AI path prefixes. Paths not
// matching either set classify as General.
func NewClassifier(exemptPaths, aiPaths []string) *Classifier {
	c := &Classifier{root: &node{children: map[string]*node{}}}
	for _, p := range exemptPaths {
		c.insert(p, domain.CategoryExempt)
	}
	for _, p := range aiPaths {
		c.insert(p, domain.CategoryAI)
	}
	return c
}

func (c *Classifier) insert(path string, cat domain.Category) {
	cur := c.root
	for _, seg := range splitPath(path) {
		next, ok := cur.children[seg]
		if !ok {
			next = &node{children: map[string]*node{}}
			cur.children[seg] = next
		}
		cur = next
	}
	cur.category = cat
	cur.terminal = true
}

// Classify returns the category for a request path. Exempt prefixes win over
// AI prefixes when both match; the most specific match is used.
func (c *Classifier) Classify(path string) domain.Category {
	cur := c.root
	best := domain.CategoryGeneral
	found := false

	for _, seg := range splitPath(path) {
		next, ok := cur.children[seg]
		if !ok {
			break
		}
		cur = next
		if cur.terminal {
			best = cur.category
			found = true
		}
	}

	if !found {
		return domain.CategoryGeneral
	}
	return best
}

func splitPath(path string) []string {
	path = strings.ToLower(strings.Trim(normalize(path), "/"))
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// normalize collapses duplicate slashes so "/a//b" matches "/a/b".
func normalize(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}
