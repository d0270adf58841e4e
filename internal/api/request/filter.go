package request

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/model"
)

const dateLayout = "2006-01-02"

// ParseRecordFilter builds a catalog filter over envs from the kind, since,
// until and limit query parameters. kind takes a comma-separated list.
func ParseRecordFilter(r *http.Request, envs []model.Environment) (catalog.Filter, error) {
	q := r.URL.Query()
	f := catalog.Filter{Environments: envs}

	if kinds := q.Get("kind"); kinds != "" {
		for _, s := range strings.Split(kinds, ",") {
			k, ok := model.ParseKind(strings.TrimSpace(s))
			if !ok {
				return catalog.Filter{}, fmt.Errorf("invalid kind %q", s)
			}
			f.Kinds = append(f.Kinds, k)
		}
	}

	var err error
	if f.Since, err = parseTime("since", q.Get("since")); err != nil {
		return catalog.Filter{}, err
	}
	if f.Until, err = parseTime("until", q.Get("until")); err != nil {
		return catalog.Filter{}, err
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return catalog.Filter{}, fmt.Errorf("until %s is before since %s", f.Until.Format(time.RFC3339), f.Since.Format(time.RFC3339))
	}

	if f.Limit, err = ParseLimit(r); err != nil {
		return catalog.Filter{}, err
	}
	return f, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates (UTC midnight).
func parseTime(param, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid %s %q: want RFC 3339 or YYYY-MM-DD", param, s)
}
