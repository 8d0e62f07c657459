// Package secrets stores API credentials encrypted at rest, so the Groq key
// does not have to live in the environment or a plaintext .env file.
//
// Values are sealed with NaCl secretbox (XSalsa20-Poly1305) under a
// user-supplied 32-byte key and kept in SQLite in the data directory.
package secrets

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/nacl/secretbox"

	wayscoutotel "github.com/wayscout-io/wayscout/internal/otel"
)

// GroqKeyName is the keyring entry the commands look up when the Groq API
// key is not set in the environment.
const GroqKeyName = "groq_api_key"

var (
	// ErrNotFound is returned when a named secret does not exist.
	ErrNotFound = errors.New("secret not found")
	// ErrInvalidKey is returned when the keyring key is not exactly
	// 32 bytes (raw or hex-encoded).
	ErrInvalidKey = errors.New("invalid keyring key")
	// ErrDecryptFailed is returned when a stored value cannot be opened,
	// usually because the keyring key changed.
	ErrDecryptFailed = errors.New("decrypting secret failed")
)

var tracer = wayscoutotel.Tracer("github.com/wayscout-io/wayscout/internal/secrets")

// Keyring is an encrypted name/value store backed by SQLite.
type Keyring struct {
	db  *sql.DB
	key [32]byte
}

// Entry is the public view of a stored secret. Values are never listed.
type Entry struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const keyringSchema = `
CREATE TABLE IF NOT EXISTS keyring (
    name TEXT PRIMARY KEY,
    sealed TEXT NOT NULL,
    nonce TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// Open opens (creating if needed) the keyring at dbPath. The key must be
// 32 raw bytes or 64 hex characters.
func Open(dbPath, key string) (*Keyring, error) {
	keyBytes, err := resolveKey(key)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening keyring database: %w", err)
	}
	if _, err := db.Exec(keyringSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing keyring schema: %w", err)
	}

	k := &Keyring{db: db}
	copy(k.key[:], keyBytes)
	return k, nil
}

// resolveKey interprets the key as 32 raw bytes or 64 hex characters.
func resolveKey(key string) ([]byte, error) {
	if len(key) == 64 {
		decoded, err := hex.DecodeString(key)
		if err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("keyring key must be 32 bytes or 64 hex characters (got %d): %w", len(key), ErrInvalidKey)
}

// Close releases the database connection.
func (k *Keyring) Close() error {
	return k.db.Close()
}

// Set seals value under a fresh nonce and upserts it.
func (k *Keyring) Set(ctx context.Context, name, value string) error {
	ctx, span := tracer.Start(ctx, "secrets.set",
		trace.WithAttributes(attribute.String("secret.name", name)))
	defer span.End()

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		span.RecordError(err)
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, []byte(value), &nonce, &k.key)

	now := time.Now()
	query := `
		INSERT INTO keyring (name, sealed, nonce, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			sealed = excluded.sealed,
			nonce = excluded.nonce,
			updated_at = excluded.updated_at
	`
	if _, err := k.db.ExecContext(ctx, query, name,
		base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonce[:]), now, now); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing secret: %w", err)
	}
	return nil
}

// Get opens and returns the named secret.
func (k *Keyring) Get(ctx context.Context, name string) (string, error) {
	ctx, span := tracer.Start(ctx, "secrets.get",
		trace.WithAttributes(attribute.String("secret.name", name)))
	defer span.End()

	var sealedB64, nonceB64 string
	err := k.db.QueryRowContext(ctx,
		`SELECT sealed, nonce FROM keyring WHERE name = ?`, name).
		Scan(&sealedB64, &nonceB64)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("querying secret: %w", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil || len(nonceBytes) != 24 {
		span.RecordError(err)
		return "", fmt.Errorf("decoding nonce: %w", ErrDecryptFailed)
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)

	plaintext, ok := secretbox.Open(nil, sealed, &nonce, &k.key)
	if !ok {
		return "", fmt.Errorf("opening secret %q: %w", name, ErrDecryptFailed)
	}
	return string(plaintext), nil
}

// List returns metadata for every stored secret, values excluded.
func (k *Keyring) List(ctx context.Context) ([]Entry, error) {
	rows, err := k.db.QueryContext(ctx,
		`SELECT name, created_at, updated_at FROM keyring ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying keyring: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.CreatedAt, &e.UpdatedAt); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes the named secret. Deleting a missing name is not an error.
func (k *Keyring) Delete(ctx context.Context, name string) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM keyring WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	return nil
}
