// Package paging provides cursor based pagination for job listings.
package paging

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor reports a cursor that cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Params holds the unified pagination parameters
type Params struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

// Result holds the pagination result
type Result[T any] struct {
	Items       []T    `json:"items"`
	Total       int    `json:"total,omitempty"`
	NextCursor  string `json:"next,omitempty"`
	HasNextPage bool   `json:"has_next"`
}

// NormalizeParams ensures that Limit is within an acceptable range
func NormalizeParams(params Params) Params {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 20
	}
	return params
}

// EncodeCursor encodes a creation timestamp and row id to a cursor
// string. The id keeps ordering stable when timestamps collide.
func EncodeCursor(t time.Time, id int64) string {
	raw := t.Format(time.RFC3339Nano) + "|" + strconv.FormatInt(id, 10)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor decodes a cursor string back to a timestamp and row id
func DecodeCursor(cursor string) (time.Time, int64, error) {
	b, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	raw := string(b)
	sep := strings.LastIndex(raw, "|")
	if sep < 0 {
		return time.Time{}, 0, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}
	t, err := time.Parse(time.RFC3339Nano, raw[:sep])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidCursor, err)
	}
	id, err := strconv.ParseInt(raw[sep+1:], 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: bad id: %v", ErrInvalidCursor, err)
	}
	return t, id, nil
}

// PagingFunc is a function type that implements pagination logic
type PagingFunc[T any] func(cursor string, limit int) (items []T, total int, nextCursor string, err error)

// Paginate applies pagination using the provided PagingFunc
func Paginate[T any](params Params, paginateFunc PagingFunc[T]) (*Result[T], error) {
	params = NormalizeParams(params)
	items, total, nextCursor, err := paginateFunc(params.Cursor, params.Limit+1)
	if err != nil {
		return nil, fmt.Errorf("pagination error: %w", err)
	}

	hasNextPage := false
	if len(items) > params.Limit {
		hasNextPage = true
		items = items[:params.Limit]
	}

	if items == nil {
		items = make([]T, 0)
	}

	return &Result[T]{
		Items:       items,
		Total:       total,
		NextCursor:  nextCursor,
		HasNextPage: hasNextPage,
	}, nil
}
