package legacycipher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	k1 := DeriveKey(0xdeadbeef, 1024)
	k2 := DeriveKey(0xdeadbeef, 1024)
	require.Equal(t, k1, k2)

	k3 := DeriveKey(0xdeadbeef, 2048)
	require.NotEqual(t, k1, k3, "different data offsets should mix to different keys")
}

func TestDecryptRoundTrip(t *testing.T) {
	plain := []byte("legacy encrypted pak content for a texture entry")
	cipher := make([]byte, len(plain))
	Decrypt(cipher, plain, 0xcafef00d, 4096)
	require.NotEqual(t, plain, cipher)

	recovered := make([]byte, len(plain))
	Decrypt(recovered, cipher, 0xcafef00d, 4096)
	require.Equal(t, plain, recovered)
}
