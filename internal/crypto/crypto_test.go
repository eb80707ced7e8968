package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bogorad/pb-agent-core/internal/agenterr"
)

// sealEnvelope builds the version_byte|tag|iv|ciphertext envelope described
// in spec.md §6, independently of the package under test, so the round
// trip in TestDecrypt_RoundTrip exercises Decrypt against a realistic wire
// payload rather than its own encryption helper.
func sealEnvelope(t *testing.T, key []byte, plaintext []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithTagSize(block, tagLength)
	require.NoError(t, err)

	iv := make([]byte, ivLength)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	envelope := append([]byte{expectedVersion}, tag...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, ciphertext...)
	return base64.StdEncoding.EncodeToString(envelope)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	c := New()
	k1 := c.DeriveKey("hunter2", "user-iden-123")
	k2 := c.DeriveKey("hunter2", "user-iden-123")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, keyLength)
}

func TestDeriveKey_DifferentSaltDifferentKey(t *testing.T) {
	c := New()
	k1 := c.DeriveKey("hunter2", "user-a")
	k2 := c.DeriveKey("hunter2", "user-b")
	assert.NotEqual(t, k1, k2)
}

func TestDecrypt_RoundTrip(t *testing.T) {
	c := New()
	key := c.DeriveKey("correct horse battery staple", "iden-abc")

	plaintext := []byte(`{"type":"note","title":"Hi","body":"there"}`)
	envelope := sealEnvelope(t, key, plaintext)

	out, err := c.Decrypt(key, envelope)
	require.NoError(t, err)
	assert.JSONEq(t, string(plaintext), string(out))
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	c := New()
	key := c.DeriveKey("right-password", "iden-abc")
	wrongKey := c.DeriveKey("wrong-password", "iden-abc")

	envelope := sealEnvelope(t, key, []byte(`{"type":"note"}`))

	_, err := c.Decrypt(wrongKey, envelope)
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindDecryptFailure))
}

func TestDecrypt_UnsupportedVersionByte(t *testing.T) {
	c := New()
	key := c.DeriveKey("pw", "iden")
	raw := append([]byte{'9'}, make([]byte, tagLength+ivLength+4)...)
	envelope := base64.StdEncoding.EncodeToString(raw)

	_, err := c.Decrypt(key, envelope)
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindDecryptFailure))
}

func TestDecrypt_TooShortEnvelope(t *testing.T) {
	c := New()
	key := c.DeriveKey("pw", "iden")
	envelope := base64.StdEncoding.EncodeToString([]byte{expectedVersion})

	_, err := c.Decrypt(key, envelope)
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindDecryptFailure))
}

func TestDecrypt_MalformedBase64(t *testing.T) {
	c := New()
	key := c.DeriveKey("pw", "iden")

	_, err := c.Decrypt(key, "not valid base64!!")
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindDecryptFailure))
}
