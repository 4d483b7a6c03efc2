package request

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

type Pagination struct {
	Page   int
	Limit  int
	Offset int
}

type QueryValues struct {
	Pagination
	StartDate *time.Time
	EndDate   *time.Time
	Search    string
}

// ParseQuery reads pagination, date range and search. A page or limit that is
// present but out of range is a validation failure rather than a silent default.
func ParseQuery(r *http.Request) (*QueryValues, error) {
	q := r.URL.Query()
	values := &QueryValues{
		Pagination: Pagination{Page: 1, Limit: DefaultLimit},
		Search:     strings.TrimSpace(q.Get("search")),
	}

	if s := q.Get("page"); s != "" {
		page, err := strconv.Atoi(s)
		if err != nil || page < 1 {
			return nil, apperror.FieldInvalid("page", "page must be a positive integer")
		}
		values.Page = page
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 || limit > MaxLimit {
			return nil, apperror.FieldInvalid("limit", "limit must be between 1 and 100")
		}
		values.Limit = limit
	}
	values.Offset = (values.Page - 1) * values.Limit

	var err error
	if values.StartDate, err = parseDate(q.Get("start_date"), "start_date"); err != nil {
		return nil, err
	}
	if values.EndDate, err = parseDate(q.Get("end_date"), "end_date"); err != nil {
		return nil, err
	}
	if values.EndDate != nil {
		// end_date is inclusive of the whole day
		end := values.EndDate.Add(24*time.Hour - time.Nanosecond)
		values.EndDate = &end
	}

	return values, nil
}

func parseDate(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}

	return nil, apperror.FieldInvalid(field, field+" must be a date (YYYY-MM-DD)")
}
