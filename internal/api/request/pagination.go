package request

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ParseLimit reads the limit query parameter. Missing means DefaultLimit;
// values above MaxLimit are clamped.
func ParseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q: want a positive integer", s)
	}
	return min(limit, MaxLimit), nil
}
