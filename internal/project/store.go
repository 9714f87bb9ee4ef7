package project

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	storeFile = "projects.enc"
	keyFile   = "projects.key"
)

// magic prefixes the encrypted file and doubles as associated data.
var magic = []byte("pocketcode-projects-v1\n")

// Store persists the ordered project list as one encrypted record. Every
// mutation is a read-modify-write of the whole list.
type Store interface {
	// List returns every project. A missing, unreadable or undecryptable file
	// yields an empty list and a logged warning.
	List() []Project
	Get(id string) (Project, error)
	Add(name string, qr QRCodeData) (Project, error)
	Rename(id, name string) (Project, error)
	Delete(id string) error
	// Path is the encrypted file; watchers key on it.
	Path() string
}

// diskStore encrypts the list with XChaCha20-Poly1305 under a random key
// kept next to it with owner-only permissions.
type diskStore struct {
	dir string
	log zerolog.Logger
	now func() time.Time

	mu sync.Mutex
}

// NewStore returns a Store rooted at dir, creating the directory and key
// on first use.
func NewStore(dir string, log zerolog.Logger) (Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	s := &diskStore{dir: dir, log: log.With().Str("component", "projects").Logger(), now: time.Now}
	if _, err := s.key(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultDir returns $XDG_DATA_HOME/pocketcode or ~/.local/share/pocketcode.
func DefaultDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "pocketcode"), nil
}

func (s *diskStore) Path() string {
	return filepath.Join(s.dir, storeFile)
}

// key loads the encryption key, generating it when absent.
func (s *diskStore) key() ([]byte, error) {
	path := filepath.Join(s.dir, keyFile)
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key file %s: want %d bytes, got %d", path, chacha20poly1305.KeySize, len(key))
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if err := writeAtomic(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return key, nil
}

func (s *diskStore) List() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load reads the list, degrading every failure to an empty list.
func (s *diskStore) load() []Project {
	projects, err := s.read()
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.Path()).Msg("could not read projects; treating as empty")
		return []Project{}
	}
	return projects
}

func (s *diskStore) read() ([]Project, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Project{}, nil
		}
		return nil, fmt.Errorf("failed to read projects: %w", err)
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, errors.New("failed to read projects: unrecognised file format")
	}
	data = data[len(magic):]

	key, err := s.key()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects: %w", err)
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("failed to read projects: file truncated")
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, magic)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt projects: %w", err)
	}

	var projects []Project
	if err := json.Unmarshal(plain, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse projects: %w", err)
	}
	if projects == nil {
		projects = []Project{}
	}
	return projects, nil
}

// save encrypts and writes the list atomically.
func (s *diskStore) save(projects []Project) error {
	plain, err := json.Marshal(projects)
	if err != nil {
		return fmt.Errorf("failed to persist projects: %w", err)
	}
	key, err := s.key()
	if err != nil {
		return fmt.Errorf("failed to persist projects: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("failed to persist projects: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), len(magic)+aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to persist projects: %w", err)
	}
	out := append([]byte{}, magic...)
	out = append(out, aead.Seal(nonce, nonce, plain, magic)...)

	if err := writeAtomic(s.Path(), out, 0o600); err != nil {
		return fmt.Errorf("failed to persist projects: %w", err)
	}
	return nil
}

func (s *diskStore) Get(id string) (Project, error) {
	for _, p := range s.List() {
		if p.ID == id {
			return p, nil
		}
	}
	return Project{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *diskStore) Add(name string, qr QRCodeData) (Project, error) {
	if qr.Link == "" || qr.Auth == "" {
		return Project{}, ErrInvalidQRCode
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(qr.Link)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	p := Project{
		ID:        uuid.NewString(),
		Name:      name,
		URL:       qr.Link,
		AuthToken: qr.Auth,
		CreatedAt: now,
		UpdatedAt: now,
	}
	projects := append(s.load(), p)
	if err := s.save(projects); err != nil {
		return Project{}, err
	}
	s.log.Info().Str("id", p.ID).Str("url", p.URL).Msg("project added")
	return p, nil
}

func (s *diskStore) Rename(id, name string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, errors.New("project name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	projects := s.load()
	for i := range projects {
		if projects[i].ID != id {
			continue
		}
		projects[i].Name = name
		projects[i].UpdatedAt = s.now().UTC()
		if err := s.save(projects); err != nil {
			return Project{}, err
		}
		return projects[i], nil
	}
	return Project{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *diskStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects := s.load()
	for i := range projects {
		if projects[i].ID != id {
			continue
		}
		if err := s.save(append(projects[:i], projects[i+1:]...)); err != nil {
			return err
		}
		s.log.Info().Str("id", id).Msg("project deleted")
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// writeAtomic writes data to a temp file in the same directory and renames
// it over path, so readers never observe a partial file.
func writeAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
