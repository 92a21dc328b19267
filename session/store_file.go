package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const fileStoreKeyInfo = "go-auth-client session file"

// FileStore keeps the session in a single JSON file so it survives restarts.
// The file is replaced with a rename, which keeps every write atomic. When a
// secret is configured the file content is sealed with XChaCha20-Poly1305.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  []byte
}

var _ SwapStore = (*FileStore)(nil)

type FileStoreOption func(*FileStore) error

// WithSecret seals the file with a key derived from secret.
func WithSecret(secret string) FileStoreOption {
	return func(f *FileStore) error {
		if secret == "" {
			return nil
		}
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(fileStoreKeyInfo)), key); err != nil {
			return fmt.Errorf("failed to derive token file key: %w", err)
		}
		f.key = key
		return nil
	}
}

func NewFileStore(path string, options ...FileStoreOption) (*FileStore, error) {
	if path == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidTokenFile, "[NewFileStore] path is required")
	}
	f := &FileStore{path: path}
	for _, opt := range options {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *FileStore) Load() (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStore) Save(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(s)
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clear()
}

func (f *FileStore) CompareAndSwap(old Session, next *Session) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.load()
	if err != nil && !errors.Is(err, ErrNoSession) {
		return false, err
	}
	if !sameTokens(current, old) {
		return false, nil
	}
	if next == nil {
		return true, f.clear()
	}
	return true, f.save(*next)
}

func (f *FileStore) load() (Session, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read token file: %w", err)
	}

	if f.key != nil {
		if data, err = f.open(data); err != nil {
			return Session{}, err
		}
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, apperrors.Wrapf(apperrors.ErrCorruptSession, "failed to decode token file: %v", err)
	}
	if s.IsZero() {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func (f *FileStore) save(s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if f.key != nil {
		if data, err = f.seal(data); err != nil {
			return err
		}
	}
	return writeFileAtomic(f.path, data)
}

func (f *FileStore) clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (f *FileStore) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (f *FileStore) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, apperrors.ErrCorruptSession
	}
	plaintext, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCorruptSession, "failed to open token file: %v", err)
	}
	return plaintext, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp token file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
