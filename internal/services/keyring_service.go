package services

import (
	"errors"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const (
	keyringServiceName = "reactivator"
	GeminiProvider     = "gemini"
	geminiAPIKeyEnv    = "GEMINI_API_KEY"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

func GetOS() string {
	return runtime.GOOS
}

// KeyringService stores provider API keys in the OS keychain.
type KeyringService struct {
	open func() (keyring.Keyring, error)

	mu   sync.Mutex
	ring keyring.Keyring
}

func NewKeyringService() *KeyringService {
	return &KeyringService{open: func() (keyring.Keyring, error) {
		return keyring.Open(keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
		})
	}}
}

// NewKeyringServiceWith uses an already opened keyring.
func NewKeyringServiceWith(ring keyring.Keyring) *KeyringService {
	return &KeyringService{ring: ring}
}

func (s *KeyringService) keyring() (keyring.Keyring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ring != nil {
		return s.ring, nil
	}
	if s.open == nil {
		return nil, errors.New("keyring is not available")
	}
	ring, err := s.open()
	if err != nil {
		return nil, err
	}
	s.ring = ring
	return ring, nil
}

func (s *KeyringService) StoreApiKey(provider string, apiKey []byte) error {
	if len(apiKey) == 0 {
		return errors.New("API key is empty")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("provider is required")
	}
	ring, err := s.keyring()
	if err != nil {
		return err
	}
	return ring.Set(keyring.Item{
		Key:         provider,
		Data:        apiKey,
		Label:       provider + " API key",
		Description: "API key for " + provider + " used by Reactivator",
	})
}

func (s *KeyringService) GetApiKey(provider string) (string, error) {
	if strings.TrimSpace(provider) == "" {
		return "", errors.New("provider is required")
	}
	ring, err := s.keyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(provider)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrAPIKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

func (s *KeyringService) DeleteApiKey(provider string) error {
	if strings.TrimSpace(provider) == "" {
		return errors.New("provider is required")
	}
	ring, err := s.keyring()
	if err != nil {
		return err
	}
	if err := ring.Remove(provider); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

func (s *KeyringService) ListApiKeys() ([]map[string]string, error) {
	ring, err := s.keyring()
	if err != nil {
		return nil, err
	}
	providers, err := ring.Keys()
	if err != nil {
		return nil, err
	}
	sort.Strings(providers)

	results := []map[string]string{}
	for _, provider := range providers {
		results = append(results, map[string]string{
			"provider":    provider,
			"label":       provider + " API key",
			"description": "API key for " + provider + " used by Reactivator",
		})
	}
	return results, nil
}

// ResolveGeminiKey prefers the stored key and falls back to GEMINI_API_KEY.
func (s *KeyringService) ResolveGeminiKey() (string, error) {
	key, err := s.GetApiKey(GeminiProvider)
	if err == nil && strings.TrimSpace(key) != "" {
		return key, nil
	}
	if env := strings.TrimSpace(os.Getenv(geminiAPIKeyEnv)); env != "" {
		return env, nil
	}
	if err != nil && !errors.Is(err, ErrAPIKeyNotFound) {
		return "", err
	}
	return "", ErrAPIKeyNotFound
}
