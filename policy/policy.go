// Package policy implements the signed-pak verifier consulted by
// CacheFactory before a deployment trusts a mounted archive (§4.10): a
// small Policy interface plus an embedded-key ed25519 implementation, with
// RequireAll/RequireAny composition for layering several checks.
//
// Concrete transports like the teacher's sigstore/gittuf/opa/slsa backends
// assume a transparency log, an attestation store, or a Rego bundle to
// evaluate against — none of which exist for an offline embedded-key
// archive signature. Only the Policy interface's shape (a context-first
// Verify call) is kept; see DESIGN.md for the full accounting.
package policy

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
)

// Policy verifies a signed CDR before CacheFactory trusts the archive it
// came from (§4.10). archiveBaseName is included so a Policy can apply
// per-archive rules (e.g. different trusted keys for different paks).
type Policy interface {
	Verify(ctx context.Context, cdrBytes []byte, archiveBaseName string, sig []byte) error
}

// PolicyFunc adapts a plain function to the Policy interface.
type PolicyFunc func(ctx context.Context, cdrBytes []byte, archiveBaseName string, sig []byte) error

// Verify implements Policy.
func (f PolicyFunc) Verify(ctx context.Context, cdrBytes []byte, archiveBaseName string, sig []byte) error {
	return f(ctx, cdrBytes, archiveBaseName, sig)
}

// Adapt turns a Policy into the bare func(cdrBytes, archiveBaseName,
// sig) error shape archive.WithPolicy expects, binding it to ctx.
func Adapt(ctx context.Context, p Policy) func(cdrBytes []byte, archiveBaseName string, sig []byte) error {
	return func(cdrBytes []byte, archiveBaseName string, sig []byte) error {
		return p.Verify(ctx, cdrBytes, archiveBaseName, sig)
	}
}

// Ed25519 verifies a CDR's signature against a fixed set of trusted public
// keys (§6.2 "embedded ... asymmetric scheme"): the signature must validate
// against at least one trusted key.
type Ed25519 struct {
	keys []ed25519.PublicKey
}

// NewEd25519 constructs a Policy trusting exactly the given public keys.
func NewEd25519(keys ...ed25519.PublicKey) *Ed25519 {
	return &Ed25519{keys: keys}
}

// Verify implements Policy.
func (p *Ed25519) Verify(_ context.Context, cdrBytes []byte, archiveBaseName string, sig []byte) error {
	if len(p.keys) == 0 {
		return fmt.Errorf("policy: %s: no trusted keys configured", archiveBaseName)
	}
	for _, key := range p.keys {
		if ed25519.Verify(key, cdrBytes, sig) {
			return nil
		}
	}
	return fmt.Errorf("policy: %s: signature does not match any trusted key", archiveBaseName)
}

// RequireAll returns a policy that passes only if every given policy
// passes. Policies are evaluated in order; evaluation stops at the first
// failure. A nil policy is skipped. With no policies it always passes.
func RequireAll(policies ...Policy) Policy {
	return PolicyFunc(func(ctx context.Context, cdrBytes []byte, archiveBaseName string, sig []byte) error {
		for i, p := range policies {
			if p == nil {
				continue
			}
			if err := p.Verify(ctx, cdrBytes, archiveBaseName, sig); err != nil {
				return fmt.Errorf("policy %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// RequireAny returns a policy that passes if at least one given policy
// passes. All policies are evaluated until one succeeds; with none
// succeeding, the error lists every failure. With no policies it always
// fails.
func RequireAny(policies ...Policy) Policy {
	return PolicyFunc(func(ctx context.Context, cdrBytes []byte, archiveBaseName string, sig []byte) error {
		var valid []Policy
		for _, p := range policies {
			if p != nil {
				valid = append(valid, p)
			}
		}
		if len(valid) == 0 {
			return errors.New("policy: RequireAny requires at least one policy")
		}

		var errs []string
		for _, p := range valid {
			if err := p.Verify(ctx, cdrBytes, archiveBaseName, sig); err != nil {
				errs = append(errs, err.Error())
				continue
			}
			return nil
		}
		return fmt.Errorf("policy: all %d policies failed: %s", len(valid), strings.Join(errs, "; "))
	})
}
