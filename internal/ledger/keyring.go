package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// EnvPrivateKey overrides any stored wallet key.
const EnvPrivateKey = "PRIVATE_KEY"

const keyPrivateKey = "privatekey"

// KeyringStore keeps wallet keys in the OS keychain, falling back to a
// 0600 JSON file where no keychain is available.
type KeyringStore struct {
	service      string
	fallbackPath string
	lookupEnv    func(string) (string, bool)
	mu           sync.Mutex
}

// NewKeyringStore creates a keyring wrapper.
func NewKeyringStore(serviceName, fallbackPath string) *KeyringStore {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "zkpoh"
	}
	return &KeyringStore{
		service:      serviceName,
		fallbackPath: fallbackPath,
		lookupEnv:    os.LookupEnv,
	}
}

func (k *KeyringStore) key(account string) string {
	return fmt.Sprintf("%s/%s", account, keyPrivateKey)
}

// SetPrivateKey stores a hex wallet key for account.
func (k *KeyringStore) SetPrivateKey(account, hexKey string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return fmt.Errorf("ledger: account is required")
	}
	if _, err := NewSigner(hexKey); err != nil {
		return err
	}

	if err := keyring.Set(k.service, k.key(account), hexKey); err == nil {
		return nil
	} else if !isKeyringUnavailable(err) {
		return fmt.Errorf("ledger: keyring set: %w", err)
	}
	return k.setFallback(account, hexKey)
}

// PrivateKey returns the wallet key: PRIVATE_KEY if set, otherwise the
// keychain entry, otherwise the fallback file.
func (k *KeyringStore) PrivateKey(account string) (string, error) {
	if v, ok := k.lookupEnv(EnvPrivateKey); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return "", fmt.Errorf("ledger: account is required")
	}

	val, err := keyring.Get(k.service, k.key(account))
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("ledger: keyring get: %w", err)
	}

	fallback, ferr := k.getFallback(account)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return "", keyring.ErrNotFound
	}
	return "", ferr
}

// Delete removes the stored key for account from both backends.
func (k *KeyringStore) Delete(account string) error {
	err := keyring.Delete(k.service, k.key(account))
	ferr := k.deleteFallback(account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		return fmt.Errorf("ledger: keyring delete: %w", err)
	}
	return ferr
}

// Signer loads the key for account and returns a signer for it.
func (k *KeyringStore) Signer(account string) (*Signer, error) {
	hexKey, err := k.PrivateKey(account)
	if err != nil {
		return nil, err
	}
	return NewSigner(hexKey)
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

func (k *KeyringStore) setFallback(account, value string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return fmt.Errorf("ledger: keyring unavailable and no fallback path configured")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	data[account] = value
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) getFallback(account string) (string, error) {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return "", fmt.Errorf("ledger: fallback path not configured")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	val, ok := data[account]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return val, nil
}

func (k *KeyringStore) deleteFallback(account string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if _, ok := data[account]; !ok {
		return nil
	}
	delete(data, account)
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) readFallbackUnlocked() (map[string]string, error) {
	out := map[string]string{}
	raw, err := os.ReadFile(k.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("ledger: read fallback secrets: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ledger: decode fallback secrets: %w", err)
	}
	return out, nil
}

func (k *KeyringStore) writeFallbackUnlocked(data map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(k.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("ledger: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("ledger: encode fallback secrets: %w", err)
	}
	if err := os.WriteFile(k.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("ledger: write fallback secrets: %w", err)
	}
	return nil
}
