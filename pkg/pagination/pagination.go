package pagination

import (
	"net/http"
	"net/url"
	"strconv"
)

// MaxPerPage caps the page size accepted from a request.
const MaxPerPage = 100

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Offset  int `json:"-"`
}

// DefaultParams is the first page of twenty.
func DefaultParams() Params {
	return Params{Page: 1, PerPage: 20}
}

// FromRequest reads page and per_page from the query string. Missing,
// malformed or out-of-range values fall back to the defaults.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	return New(queryInt(q, "page"), queryInt(q, "per_page"))
}

func queryInt(q url.Values, key string) int {
	v, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return 0
	}
	return v
}

// New returns params for page and perPage. A non-positive page means the
// first; a page size outside 1..MaxPerPage means the default.
func New(page, perPage int) Params {
	p := DefaultParams()
	if page > 0 {
		p.Page = page
	}
	if perPage > 0 && perPage <= MaxPerPage {
		p.PerPage = perPage
	}
	p.Offset = (p.Page - 1) * p.PerPage
	return p
}

// Values encodes the params as list query parameters.
func (p Params) Values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(p.PerPage))
	}
	return v
}

// Result wraps a paginated response.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult wraps one page of data out of totalCount items.
func NewResult[T any](data []T, totalCount int, params Params) Result[T] {
	totalPages := (totalCount + params.PerPage - 1) / params.PerPage

	return Result[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
		HasPrev:    params.Page > 1,
	}
}

// Slice pages through an in-memory collection.
func Slice[T any](items []T, params Params) Result[T] {
	start := min(params.Offset, len(items))
	end := min(start+params.PerPage, len(items))
	page := make([]T, end-start)
	copy(page, items[start:end])
	return NewResult(page, len(items), params)
}
