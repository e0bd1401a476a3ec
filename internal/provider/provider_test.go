package provider

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   HTTPClassification
	}{
		{http.StatusBadRequest, ClassifyClient},
		{http.StatusUnauthorized, ClassifyClient},
		{http.StatusTooManyRequests, ClassifyClient}, // rate limiting recovers via router fallback, not retry
		{http.StatusInternalServerError, ClassifyServer},
		{http.StatusBadGateway, ClassifyServer},
		{http.StatusServiceUnavailable, ClassifyServer},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyStatus(c.status), "status %d", c.status)
	}
}
