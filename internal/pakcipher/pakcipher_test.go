package pakcipher

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapKeyTableRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	_, _ = rand.Read(key1)
	_, _ = rand.Read(key2)
	table := KeyTable{key1, key2}

	wrapped, err := WrapKeyTable(&priv.PublicKey, table)
	require.NoError(t, err)

	recovered, err := UnwrapKeyTable(priv, wrapped, 32)
	require.NoError(t, err)
	require.Equal(t, table, recovered)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	table := KeyTable{key}

	plain := []byte("entry bytes that get stream-ciphered under a keytable slot")
	cipher := make([]byte, len(plain))
	require.NoError(t, Encrypt(table, 0, 1234, cipher, plain))
	require.NotEqual(t, plain, cipher)

	recovered := make([]byte, len(plain))
	require.NoError(t, Decrypt(table, 0, 1234, recovered, cipher))
	require.Equal(t, plain, recovered)
}

func TestDecryptSlotOutOfRange(t *testing.T) {
	table := KeyTable{make([]byte, 32)}
	err := Decrypt(table, 5, 0, make([]byte, 4), make([]byte, 4))
	require.Error(t, err)
}
