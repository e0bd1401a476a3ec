// Package credentials resolves a provider's API key from one of several
// sources at request time (spec.md 4.3, C4). The config layer (teacher's
// internal/config pattern, extended) describes *where* a key lives; this
// package turns that description into an actual secret string.
package credentials

import (
	"fmt"
	"os"

	"github.com/tzrouter/gateway/internal/apierror"
)

// Location is the discriminated union describing where a credential comes
// from. Exactly one field is meaningful, selected by Kind.
type Location struct {
	Kind LocationKind

	// EnvVar names the environment variable to read for KindDynamic.
	EnvVar string

	// Value is the literal secret for KindStatic.
	Value string

	// Default/Fallback recurse for KindWithFallback: try Default first,
	// fall back to Fallback only if Default resolves to "missing".
	Default  *Location
	Fallback *Location
}

type LocationKind string

const (
	// KindStatic carries the secret value directly in config. Used for
	// local dev or secrets already injected by an orchestrator.
	KindStatic LocationKind = "static"
	// KindDynamic reads an environment variable at request time.
	KindDynamic LocationKind = "dynamic"
	// KindMissing always resolves to "no credential available", without
	// itself being an error — useful as the innermost leaf of a
	// WithFallback chain, or for providers that need no credential.
	KindMissing LocationKind = "missing"
	// KindWithFallback tries Default, and only if that resolves to
	// missing, tries Fallback.
	KindWithFallback LocationKind = "with_fallback"
)

// Static builds a Location carrying a literal secret.
func Static(value string) Location { return Location{Kind: KindStatic, Value: value} }

// Dynamic builds a Location that reads an environment variable at resolve
// time.
func Dynamic(envVar string) Location { return Location{Kind: KindDynamic, EnvVar: envVar} }

// Missing builds a Location that never resolves to a credential.
func Missing() Location { return Location{Kind: KindMissing} }

// WithFallback builds a Location that prefers def, falling back to
// fallback only when def is missing.
func WithFallback(def, fallback Location) Location {
	return Location{Kind: KindWithFallback, Default: &def, Fallback: &fallback}
}

// result is the outcome of resolving a single (non-fallback) Location leaf.
type result struct {
	value string
	found bool
}

// Resolve turns a Location into a concrete secret. It returns
// apierror.KindAPIKeyMissing only once the whole chain (including any
// WithFallback fallback) has been exhausted — an intermediate "missing" on
// the Default branch of a WithFallback is not itself reported, so a
// configured fallback chain never logs a spurious warning about its first
// leg (spec.md 4.3: "a 'missing' result partway down a fallback chain is
// not itself an error").
func Resolve(loc Location) (string, error) {
	res, err := resolve(loc)
	if err != nil {
		return "", err
	}
	if !res.found {
		return "", apierror.New(apierror.KindAPIKeyMissing, "no credential available")
	}
	return res.value, nil
}

// resolve is the recursive worker. It never itself returns the
// APIKeyMissing error — that's reported only at the top of Resolve, once
// every fallback has been tried. This keeps the function correct for
// fallback chains of any depth instead of special-casing exactly two
// levels.
func resolve(loc Location) (result, error) {
	switch loc.Kind {
	case KindStatic:
		return result{value: loc.Value, found: true}, nil

	case KindDynamic:
		v, ok := os.LookupEnv(loc.EnvVar)
		if !ok || v == "" {
			return result{}, nil
		}
		return result{value: v, found: true}, nil

	case KindMissing:
		return result{}, nil

	case KindWithFallback:
		if loc.Default == nil || loc.Fallback == nil {
			return result{}, apierror.New(apierror.KindConfig, "with_fallback credential missing default or fallback leg")
		}
		def, err := resolve(*loc.Default)
		if err != nil {
			return result{}, err
		}
		if def.found {
			return def, nil
		}
		return resolve(*loc.Fallback)

	default:
		return result{}, apierror.Newf(apierror.KindConfig, "unknown credential location kind %q", loc.Kind)
	}
}

// ResolveMap resolves a named set of Locations (e.g. the dynamic
// credentials a request supplies per-provider at call time), returning a
// map of only those that resolved. Missing credentials are silently
// dropped rather than erroring: callers ask for this map up front for
// several providers, and not every provider in the call graph will
// necessarily be exercised by a given request.
func ResolveMap(locs map[string]Location) (map[string]string, error) {
	out := make(map[string]string, len(locs))
	for name, loc := range locs {
		res, err := resolve(loc)
		if err != nil {
			return nil, fmt.Errorf("credentials: resolving %q: %w", name, err)
		}
		if res.found {
			out[name] = res.value
		}
	}
	return out, nil
}
