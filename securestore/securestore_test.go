package securestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	codec, err := New("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := codec.Encrypt([]byte("plaintext payload"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "plaintext payload")

	plain, err := codec.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "plaintext payload", string(plain))
}

func TestEmptyPassphraseRejected(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestNonceVariesPerEncryption(t *testing.T) {
	codec, err := New("pass")
	require.NoError(t, err)
	a, err := codec.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := codec.Encrypt([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestWrongPassphraseFailsDecrypt(t *testing.T) {
	right, err := New("right")
	require.NoError(t, err)
	wrong, err := New("wrong")
	require.NoError(t, err)

	sealed, err := right.Encrypt([]byte("data"))
	require.NoError(t, err)
	_, err = wrong.Decrypt(sealed)
	assert.Error(t, err)
}

func TestTamperedCiphertextFailsDecrypt(t *testing.T) {
	codec, err := New("pass")
	require.NoError(t, err)
	sealed, err := codec.Encrypt([]byte("data"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = codec.Decrypt(sealed)
	assert.Error(t, err)

	_, err = codec.Decrypt([]byte("short"))
	assert.Error(t, err)
}
