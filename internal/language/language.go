package language

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

var (
	// ErrNoOperation is returned when a document has no operation matching
	// the requested name.
	ErrNoOperation = errors.New("language: operation not found")

	// ErrSubscription is returned for subscription operations, which this
	// client does not execute.
	ErrSubscription = errors.New("language: subscriptions are not supported")
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SelectOperation picks the operation to run from doc. An empty name selects
// the only operation of a single-operation document.
func SelectOperation(doc *QueryDocument, name string) (*OperationDefinition, error) {
	op := doc.Operations.ForName(name)
	if op == nil && name == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		if name == "" {
			return nil, fmt.Errorf("%w: document has %d operations, name required", ErrNoOperation, len(doc.Operations))
		}
		return nil, fmt.Errorf("%w: %q", ErrNoOperation, name)
	}
	if op.Operation == Subscription {
		return nil, ErrSubscription
	}
	return op, nil
}

// Cache keeps parsed documents keyed by source text. Parsed documents are
// shared between callers and must be treated as read-only.
type Cache struct {
	docs *lru.Cache[string, *QueryDocument]
}

// DefaultCacheSize is used when NewCache is given a non-positive size.
const DefaultCacheSize = 256

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails for size <= 0
	docs, _ := lru.New[string, *QueryDocument](size)
	return &Cache{docs: docs}
}

// Parse returns the cached document for source, parsing it on first use.
// Documents that fail to parse are not cached.
func (c *Cache) Parse(source string) (*QueryDocument, error) {
	if doc, ok := c.docs.Get(source); ok {
		return doc, nil
	}
	doc, err := ParseQuery(source)
	if err != nil {
		return nil, err
	}
	c.docs.Add(source, doc)
	return doc, nil
}

func (c *Cache) Len() int { return c.docs.Len() }
