package diff

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

var (
	// ErrInvalidCursor indicates an after cursor that was not issued by this engine.
	ErrInvalidCursor = errors.New("diff: invalid cursor")
	// ErrInvalidPage indicates a negative page size.
	ErrInvalidPage = errors.New("diff: invalid page size")
)

// Page bounds one request. First defaults to 100 and is capped at 1000.
type Page struct {
	First int
	After string
}

// Edge pairs a node with its opaque cursor.
type Edge[T any] struct {
	Cursor string `json:"cursor"`
	Node   T      `json:"node"`
}

type PageInfo struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
}

// Connection is one page of a sorted change list.
type Connection[T any] struct {
	Edges      []Edge[T] `json:"edges"`
	PageInfo   PageInfo  `json:"pageInfo"`
	TotalCount int       `json:"totalCount"`
}

// Nodes returns the page nodes in order.
func (c Connection[T]) Nodes() []T {
	nodes := make([]T, 0, len(c.Edges))
	for _, edge := range c.Edges {
		nodes = append(nodes, edge.Node)
	}
	return nodes
}

func encodeCursor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return string(raw), nil
}

// paginate slices items, which must be sorted by key, after the cursor position.
func paginate[T any](items []T, key func(T) string, page Page) (Connection[T], error) {
	if page.First < 0 {
		return Connection[T]{}, fmt.Errorf("%w: first must not be negative", ErrInvalidPage)
	}
	first := page.First
	if first == 0 {
		first = defaultPageSize
	}
	if first > maxPageSize {
		first = maxPageSize
	}

	start := 0
	if page.After != "" {
		after, err := decodeCursor(page.After)
		if err != nil {
			return Connection[T]{}, err
		}
		start = sort.Search(len(items), func(index int) bool {
			return key(items[index]) > after
		})
	}
	end := start + first
	if end > len(items) {
		end = len(items)
	}

	connection := Connection[T]{
		Edges:      make([]Edge[T], 0, end-start),
		TotalCount: len(items),
		PageInfo: PageInfo{
			HasNextPage:     end < len(items),
			HasPreviousPage: start > 0,
		},
	}
	for _, item := range items[start:end] {
		connection.Edges = append(connection.Edges, Edge[T]{Cursor: encodeCursor(key(item)), Node: item})
	}
	if len(connection.Edges) > 0 {
		connection.PageInfo.StartCursor = connection.Edges[0].Cursor
		connection.PageInfo.EndCursor = connection.Edges[len(connection.Edges)-1].Cursor
	}
	return connection, nil
}
