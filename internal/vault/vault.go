// Package vault keeps cloud API credentials encrypted in memory. The key is
// derived from an operator password with argon2id and dropped on Lock, so a
// locked vault yields no credentials and routing cannot leave the edge.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/jordanhubbard/edgegate/internal/pricing"
)

var (
	ErrLocked           = errors.New("vault locked")
	ErrWrongPassword    = errors.New("wrong vault password")
	ErrPasswordTooShort = errors.New("password too short")
	ErrNotFound         = errors.New("credential not found")
)

const (
	minPasswordLen = 8
	saltLen        = 16
	keyLen         = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4

	checkPlaintext = "edgegate-vault"
)

// Vault stores one encrypted credential per provider slot.
type Vault struct {
	mu     sync.RWMutex
	salt   []byte
	check  []byte // checkPlaintext sealed under the key; nil until first unlock
	key    []byte // in memory only; cleared on Lock
	values map[pricing.ProviderID][]byte
}

// New creates an empty, locked vault with a fresh salt.
func New() (*Vault, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	return &Vault{
		salt:   salt,
		values: make(map[pricing.ProviderID][]byte),
	}, nil
}

func (v *Vault) IsLocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key == nil
}

// Unlock derives the key from password. The first unlock fixes the password;
// later unlocks must use the same one.
func (v *Vault) Unlock(password []byte) error {
	if len(password) < minPasswordLen {
		return ErrPasswordTooShort
	}
	key := argon2.IDKey(password, v.salt, argonTime, argonMemory, argonThreads, keyLen)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.check == nil {
		check, err := seal(key, []byte(checkPlaintext))
		if err != nil {
			return err
		}
		v.check = check
	} else {
		plain, err := open(key, v.check)
		if err != nil || subtle.ConstantTimeCompare(plain, []byte(checkPlaintext)) != 1 {
			return ErrWrongPassword
		}
	}
	v.key = key
	return nil
}

// Lock zeroes and drops the key.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.key)
	v.key = nil
}

// SetCredential encrypts and stores secret for a cloud slot.
func (v *Vault) SetCredential(id pricing.ProviderID, secret string) error {
	if id != pricing.CloudPrimary && id != pricing.CloudSecondary {
		return fmt.Errorf("vault: %q is not a cloud slot", id)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return ErrLocked
	}
	sealed, err := seal(v.key, []byte(secret))
	if err != nil {
		return err
	}
	v.values[id] = sealed
	return nil
}

// Get decrypts the credential for id.
func (v *Vault) Get(id pricing.ProviderID) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return "", ErrLocked
	}
	sealed, ok := v.values[id]
	if !ok {
		return "", ErrNotFound
	}
	plain, err := open(v.key, sealed)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt %s: %w", id, err)
	}
	return string(plain), nil
}

// Credential implements routing.CredentialSource. A locked vault has none.
func (v *Vault) Credential(id pricing.ProviderID) (string, bool) {
	secret, err := v.Get(id)
	if err != nil || secret == "" {
		return "", false
	}
	return secret, true
}

// Delete removes the credential for id.
func (v *Vault) Delete(id pricing.ProviderID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, id)
}

// Providers lists slots holding a credential, sorted.
func (v *Vault) Providers() []pricing.ProviderID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]pricing.ProviderID, 0, len(v.values))
	for id := range v.values {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Sealed is the persistable form of a vault. It never contains the key.
type Sealed struct {
	Salt        string            `json:"salt"`
	Check       string            `json:"check,omitempty"`
	Credentials map[string]string `json:"credentials"`
}

// Export returns the encrypted contents.
func (v *Vault) Export() Sealed {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s := Sealed{
		Salt:        base64.StdEncoding.EncodeToString(v.salt),
		Credentials: make(map[string]string, len(v.values)),
	}
	if v.check != nil {
		s.Check = base64.StdEncoding.EncodeToString(v.check)
	}
	for id, val := range v.values {
		s.Credentials[string(id)] = base64.StdEncoding.EncodeToString(val)
	}
	return s
}

// Import restores a locked vault from s.
func Import(s Sealed) (*Vault, error) {
	salt, err := base64.StdEncoding.DecodeString(s.Salt)
	if err != nil || len(salt) != saltLen {
		return nil, errors.New("vault: invalid salt")
	}
	v := &Vault{salt: salt, values: make(map[pricing.ProviderID][]byte, len(s.Credentials))}
	if s.Check != "" {
		if v.check, err = base64.StdEncoding.DecodeString(s.Check); err != nil {
			return nil, fmt.Errorf("vault: decode check: %w", err)
		}
	}
	for id, enc := range s.Credentials {
		decoded, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("vault: decode %s: %w", id, err)
		}
		v.values[pricing.ProviderID(id)] = decoded
	}
	return v, nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
