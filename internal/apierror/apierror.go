// Package apierror defines the gateway's closed set of error kinds and how
// they map onto HTTP status codes (spec.md section 7).
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of error categories the gateway can surface.
type Kind string

const (
	KindInvalidRequest         Kind = "invalid_request"
	KindObjectStoreUnconfigured Kind = "object_store_unconfigured"
	KindUnknownFunction        Kind = "unknown_function"
	KindUnknownModel           Kind = "unknown_model"
	KindAPIKeyMissing          Kind = "api_key_missing"
	KindInferenceClient        Kind = "inference_client"
	KindInferenceServer        Kind = "inference_server"
	KindTypeConversion         Kind = "type_conversion"
	KindSerialization          Kind = "serialization"
	KindConfig                 Kind = "config"
	KindModelProvidersExhausted Kind = "model_providers_exhausted"
	KindJSONSchema             Kind = "json_schema"
	KindTemplateRender         Kind = "template_render"
	KindNoStreamContent        Kind = "no_stream_content"
)

// Error is the gateway's single error type: a Kind plus a human message and
// optional wrapped cause. Every component returns *Error (or wraps a plain
// error with New/Wrap) so the server's top-level handler can map failures to
// the right HTTP status without re-sniffing string content.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// ProviderErrors is populated only for KindModelProvidersExhausted: the
	// per-provider-name error each fallback attempt failed with (spec.md
	// 4.4, ModelProvidersExhausted{providers: HashMap<String, Error>}).
	ProviderErrors map[string]error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a bare *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying error, preserving it for errors.Is/As.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ExhaustedProviders builds the ModelProvidersExhausted error C5 returns once
// every configured provider in a model's fallback chain has failed.
func ExhaustedProviders(modelName string, providerErrors map[string]error) *Error {
	return &Error{
		Kind:           KindModelProvidersExhausted,
		Message:        fmt.Sprintf("model %q exhausted all providers", modelName),
		ProviderErrors: providerErrors,
	}
}

// Retriable reports whether the kind represents a transient, retriable
// failure. Only InferenceServer errors (5xx/network failures from a
// provider) are retriable per spec.md section 7; InferenceClient errors
// (4xx from a provider — bad request, auth, rate limit) are not, and
// neither is anything else.
func (k Kind) Retriable() bool {
	return k == KindInferenceServer
}

// HTTPStatus maps a Kind to the status code the server writes in its
// response (spec.md section 6/7).
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindUnknownFunction, KindUnknownModel,
		KindTypeConversion, KindJSONSchema, KindInferenceClient,
		KindTemplateRender, KindNoStreamContent:
		return http.StatusBadRequest
	case KindAPIKeyMissing, KindObjectStoreUnconfigured, KindConfig:
		return http.StatusInternalServerError
	case KindModelProvidersExhausted, KindInferenceServer:
		return http.StatusBadGateway
	case KindSerialization:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As extracts the first *Error in err's chain, if any, mirroring the
// standard library's errors.As without requiring callers to declare the
// target variable inline.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status any error should be reported with: the
// Kind-specific mapping for an *Error, or 500 for anything else.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}
