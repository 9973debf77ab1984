package policy

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEd25519VerifyAcceptsSignatureFromTrustedKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	cdr := []byte("central directory bytes")
	sig := ed25519.Sign(priv, cdr)

	p := NewEd25519(pub)
	require.NoError(t, p.Verify(context.Background(), cdr, "game.pak", sig))
}

func TestEd25519VerifyRejectsUntrustedKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	cdr := []byte("central directory bytes")
	sig := ed25519.Sign(priv, cdr)

	p := NewEd25519(otherPub)
	require.Error(t, p.Verify(context.Background(), cdr, "game.pak", sig))
}

func TestEd25519VerifyNoKeysConfigured(t *testing.T) {
	p := NewEd25519()
	require.Error(t, p.Verify(context.Background(), []byte("x"), "game.pak", []byte("sig")))
}

func TestRequireAllStopsAtFirstFailure(t *testing.T) {
	var calls []int
	ok := PolicyFunc(func(context.Context, []byte, string, []byte) error {
		calls = append(calls, 1)
		return nil
	})
	fail := PolicyFunc(func(context.Context, []byte, string, []byte) error {
		calls = append(calls, 2)
		return errors.New("nope")
	})
	neverCalled := PolicyFunc(func(context.Context, []byte, string, []byte) error {
		calls = append(calls, 3)
		return nil
	})

	err := RequireAll(ok, fail, neverCalled).Verify(context.Background(), nil, "a.pak", nil)
	require.Error(t, err)
	require.Equal(t, []int{1, 2}, calls)
}

func TestRequireAllEmptyPasses(t *testing.T) {
	require.NoError(t, RequireAll().Verify(context.Background(), nil, "a.pak", nil))
}

func TestRequireAnyPassesOnFirstSuccess(t *testing.T) {
	fail := PolicyFunc(func(context.Context, []byte, string, []byte) error { return errors.New("nope") })
	ok := PolicyFunc(func(context.Context, []byte, string, []byte) error { return nil })

	require.NoError(t, RequireAny(fail, ok).Verify(context.Background(), nil, "a.pak", nil))
}

func TestRequireAnyAllFail(t *testing.T) {
	fail1 := PolicyFunc(func(context.Context, []byte, string, []byte) error { return errors.New("one") })
	fail2 := PolicyFunc(func(context.Context, []byte, string, []byte) error { return errors.New("two") })

	err := RequireAny(fail1, fail2).Verify(context.Background(), nil, "a.pak", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "one")
	require.Contains(t, err.Error(), "two")
}

func TestRequireAnyNoPoliciesFails(t *testing.T) {
	require.Error(t, RequireAny().Verify(context.Background(), nil, "a.pak", nil))
}

func TestAdaptBindsContext(t *testing.T) {
	var gotCtx context.Context
	p := PolicyFunc(func(ctx context.Context, cdrBytes []byte, archiveBaseName string, sig []byte) error {
		gotCtx = ctx
		return nil
	})

	ctx := context.WithValue(context.Background(), struct{ k string }{"k"}, "v")
	fn := Adapt(ctx, p)
	require.NoError(t, fn([]byte("cdr"), "a.pak", []byte("sig")))
	require.Equal(t, ctx, gotCtx)
}
