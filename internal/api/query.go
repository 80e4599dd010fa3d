package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 10000
)

// listParams are the query parameters shared by list endpoints:
// limit, offset, sort_by and sort_order.
type listParams struct {
	Limit  int
	Offset int
	SortBy string
	Desc   bool
}

// queryReader reads typed query parameters and keeps the first error.
type queryReader struct {
	values url.Values
	err    error
}

func newQueryReader(r *http.Request) *queryReader {
	return &queryReader{values: r.URL.Query()}
}

func (q *queryReader) fail(format string, args ...any) {
	if q.err == nil {
		q.err = fmt.Errorf(format, args...)
	}
}

// nonNegative returns def when key is absent. Zero also means def when
// zeroIsDefault is set.
func (q *queryReader) nonNegative(key string, def, max int, zeroIsDefault bool) int {
	raw := q.values.Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		q.fail("%s: must be a non-negative integer", key)
		return def
	}
	if max > 0 && n > max {
		q.fail("%s: must be <= %d", key, max)
		return def
	}
	if n == 0 && zeroIsDefault {
		return def
	}
	return n
}

func (q *queryReader) optionalBool(key string) *bool {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		q.fail("%s: must be true or false", key)
		return nil
	}
	return &b
}

func (q *queryReader) oneOf(key string, allowed []string) string {
	raw := q.values.Get(key)
	if raw == "" || slices.Contains(allowed, raw) {
		return raw
	}
	q.fail("%s: must be one of %s", key, strings.Join(allowed, ", "))
	return ""
}

func (q *queryReader) list(sortFields []string) listParams {
	p := listParams{
		Limit:  q.nonNegative("limit", defaultPageLimit, maxPageLimit, true),
		Offset: q.nonNegative("offset", 0, 0, false),
	}
	if len(sortFields) > 0 {
		p.SortBy = q.oneOf("sort_by", sortFields)
	}
	switch order := strings.ToLower(q.values.Get("sort_order")); order {
	case "", "asc":
	case "desc":
		p.Desc = true
	default:
		q.fail("sort_order: must be 'asc' or 'desc'")
	}
	return p
}

// page slices items by offset and limit. It never returns nil.
func page[T any](items []T, p listParams) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := min(p.Offset+p.Limit, len(items))
	return items[p.Offset:end]
}

// sortByKey is a stable sort on a string key. An empty SortBy keeps the
// incoming order.
func sortByKey[T any](items []T, p listParams, key func(T) string) {
	if p.SortBy == "" {
		return
	}
	slices.SortStableFunc(items, func(a, b T) int {
		if p.Desc {
			a, b = b, a
		}
		return strings.Compare(key(a), key(b))
	})
}

// readBody reads the whole request body. An oversized body gets 413.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		return nil, true
	}
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writePayloadTooLarge(w, maxErr.Limit)
	} else {
		writeInvalidArgument(w, "failed to read body")
	}
	return nil, false
}

// uuidPathValue accepts only the canonical lowercase form.
func uuidPathValue(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.PathValue(name)
	if id, err := uuid.Parse(v); err != nil || id.String() != v {
		writeInvalidArgument(w, name+": must be a valid UUID")
		return "", false
	}
	return v, true
}
