package secrets

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef" // 32 raw bytes

func newTestKeyring(t *testing.T, key string) *Keyring {
	t.Helper()
	k, err := Open(filepath.Join(t.TempDir(), "keyring.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k
}

func TestKeyring_SetGetRoundTrip(t *testing.T) {
	k := newTestKeyring(t, testKey)
	ctx := context.Background()

	require.NoError(t, k.Set(ctx, GroqKeyName, "gsk_secret_value"))

	got, err := k.Get(ctx, GroqKeyName)
	require.NoError(t, err)
	assert.Equal(t, "gsk_secret_value", got)
}

func TestKeyring_SetOverwrites(t *testing.T) {
	k := newTestKeyring(t, testKey)
	ctx := context.Background()

	require.NoError(t, k.Set(ctx, "token", "first"))
	require.NoError(t, k.Set(ctx, "token", "second"))

	got, err := k.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestKeyring_GetMissing(t *testing.T) {
	k := newTestKeyring(t, testKey)
	_, err := k.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyring_HexKey(t *testing.T) {
	hexKey := hex.EncodeToString([]byte(testKey))
	require.Len(t, hexKey, 64)

	dir := t.TempDir()
	path := filepath.Join(dir, "keyring.db")

	k, err := Open(path, hexKey)
	require.NoError(t, err)
	require.NoError(t, k.Set(context.Background(), "token", "value"))
	require.NoError(t, k.Close())

	// The raw form of the same key opens the same entries.
	k, err = Open(path, testKey)
	require.NoError(t, err)
	defer k.Close()
	got, err := k.Get(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestKeyring_WrongKeyFailsDecrypt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyring.db")

	k, err := Open(path, testKey)
	require.NoError(t, err)
	require.NoError(t, k.Set(context.Background(), "token", "value"))
	require.NoError(t, k.Close())

	k, err = Open(path, "ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	defer k.Close()

	_, err = k.Get(context.Background(), "token")
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpen_RejectsBadKeyLength(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "keyring.db"), "too-short")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyring_ListAndDelete(t *testing.T) {
	k := newTestKeyring(t, testKey)
	ctx := context.Background()

	require.NoError(t, k.Set(ctx, "b_token", "1"))
	require.NoError(t, k.Set(ctx, "a_token", "2"))

	entries, err := k.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a_token", entries[0].Name)
	assert.Equal(t, "b_token", entries[1].Name)

	require.NoError(t, k.Delete(ctx, "a_token"))
	entries, err = k.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, k.Delete(ctx, "missing"))
}
