package request

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit_Default(t *testing.T) {
	limit, err := ParseLimit(httptest.NewRequest("GET", "/records", nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, limit)
}

func TestParseLimit_Custom(t *testing.T) {
	limit, err := ParseLimit(httptest.NewRequest("GET", "/records?limit=25", nil))
	require.NoError(t, err)
	assert.Equal(t, 25, limit)
}

func TestParseLimit_Clamped(t *testing.T) {
	limit, err := ParseLimit(httptest.NewRequest("GET", "/records?limit=5000", nil))
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, limit)
}

func TestParseLimit_Invalid(t *testing.T) {
	for _, v := range []string{"abc", "0", "-3"} {
		_, err := ParseLimit(httptest.NewRequest("GET", "/records?limit="+v, nil))
		assert.Error(t, err, v)
	}
}
