// Package pakcipher implements the modern archive encryption scheme used by
// EncryptionStreamCipherKeytable archives (§4.4 step 3): a per-archive
// symmetric keytable wrapped with RSA-OAEP under an embedded public key, and
// a ChaCha20 stream cipher (golang.org/x/crypto) keyed per entry from that
// keytable. This replaces the legacy XOR cipher in internal/legacycipher for
// archives built by current tooling.
package pakcipher

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// KeyTable holds the per-archive symmetric keys recovered from the CDR's
// encrypted keytable blob, one 32-byte ChaCha20 key per key slot;
// archive.Cache picks an entry's slot as its NameHash mod the table length.
type KeyTable [][]byte

// UnwrapKeyTable decrypts an RSA-OAEP-wrapped keytable blob using priv,
// returning the recovered per-slot keys. keySize is the fixed size of each
// ChaCha20 key (32 bytes).
func UnwrapKeyTable(priv *rsa.PrivateKey, wrapped []byte, keySize int) (KeyTable, error) {
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("pakcipher: unwrap keytable: %w", err)
	}
	if len(plain)%keySize != 0 {
		return nil, fmt.Errorf("pakcipher: unwrapped keytable length %d not a multiple of key size %d", len(plain), keySize)
	}
	n := len(plain) / keySize
	table := make(KeyTable, n)
	for i := 0; i < n; i++ {
		table[i] = plain[i*keySize : (i+1)*keySize]
	}
	return table, nil
}

// WrapKeyTable RSA-OAEP-encrypts table under pub, for archive-building
// tools that need to produce the CDR's embedded encrypted keytable.
func WrapKeyTable(pub *rsa.PublicKey, table KeyTable) ([]byte, error) {
	flat := make([]byte, 0, len(table)*32)
	for _, key := range table {
		flat = append(flat, key...)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, flat, nil)
	if err != nil {
		return nil, fmt.Errorf("pakcipher: wrap keytable: %w", err)
	}
	return wrapped, nil
}

// Decrypt deciphers src in place using the ChaCha20 key at slot in table,
// nonced by the entry's data offset (so two entries sharing a key slot
// never reuse a keystream position), writing the result into dst.
func Decrypt(table KeyTable, slot int, dataOffset uint32, dst, src []byte) error {
	if slot < 0 || slot >= len(table) {
		return fmt.Errorf("pakcipher: key slot %d out of range (table has %d)", slot, len(table))
	}
	nonce := make([]byte, chacha20.NonceSize)
	nonce[0] = byte(dataOffset)
	nonce[1] = byte(dataOffset >> 8)
	nonce[2] = byte(dataOffset >> 16)
	nonce[3] = byte(dataOffset >> 24)

	c, err := chacha20.NewUnauthenticatedCipher(table[slot], nonce)
	if err != nil {
		return fmt.Errorf("pakcipher: new cipher: %w", err)
	}
	c.XORKeyStream(dst, src)
	return nil
}

// Encrypt is Decrypt's inverse; ChaCha20 is symmetric, so it shares the same
// implementation, kept as a distinct name for call-site clarity.
func Encrypt(table KeyTable, slot int, dataOffset uint32, dst, src []byte) error {
	return Decrypt(table, slot, dataOffset, dst, src)
}
