package httputil

import (
	"net/http"
	"strconv"
)

// PageParams holds parsed pagination values from query params.
type PageParams struct {
	Limit  int
	Offset int
}

// ParsePage extracts limit and offset from query params. defaultLimit is
// used when no limit param is provided; maxLimit caps the allowed limit to
// protect the datastore.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) PageParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	return PageParams{Limit: limit, Offset: offset}
}
