package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidRequest:          http.StatusBadRequest,
		KindUnknownModel:            http.StatusBadRequest,
		KindInferenceClient:         http.StatusBadRequest,
		KindNoStreamContent:         http.StatusBadRequest,
		KindAPIKeyMissing:           http.StatusInternalServerError,
		KindConfig:                  http.StatusInternalServerError,
		KindInferenceServer:         http.StatusBadGateway,
		KindModelProvidersExhausted: http.StatusBadGateway,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), "kind %s", kind)
	}
}

func TestRetriable(t *testing.T) {
	assert.True(t, KindInferenceServer.Retriable())
	assert.False(t, KindInferenceClient.Retriable())
	assert.False(t, KindInvalidRequest.Retriable())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindInferenceServer, cause, "calling provider")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAsExtractsKind(t *testing.T) {
	wrapped := fmt.Errorf("router: %w", New(KindUnknownModel, "no such model \"foo\""))

	e, ok := As(wrapped)
	require := assert.New(t)
	require.True(ok)
	require.Equal(KindUnknownModel, e.Kind)
	require.Equal(http.StatusBadRequest, StatusFor(wrapped))
}

func TestStatusForPlainErrorDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestExhaustedProvidersCarriesPerProviderErrors(t *testing.T) {
	errs := map[string]error{
		"anthropic-primary": New(KindInferenceServer, "timeout"),
		"anthropic-backup":  New(KindAPIKeyMissing, "missing credential"),
	}
	err := ExhaustedProviders("claude-fallback", errs)

	assert.Equal(t, KindModelProvidersExhausted, err.Kind)
	assert.Len(t, err.ProviderErrors, 2)
	assert.Contains(t, err.Error(), "claude-fallback")
}
