package utils

import (
	"net/http"
	"strconv"
)

type QueryOptions struct {
	Offset   int
	Limit    int
	Category string
	Search   string
}

// ParseQueryOptions reads offset, limit, category and q. Limit 0 means the
// caller's default. Category and q are passed on verbatim.
func ParseQueryOptions(r *http.Request) QueryOptions {
	q := r.URL.Query()

	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 0 {
		limit = 0
	}

	return QueryOptions{
		Offset:   offset,
		Limit:    limit,
		Category: q.Get("category"),
		Search:   q.Get("q"),
	}
}
