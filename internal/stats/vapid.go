package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const vapidKeysFileName = "push_vapid_keys.json"

type vapidKeysFile struct {
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ensureVAPIDKeys returns the persisted VAPID keypair from dir, generating
// and storing a fresh one on first use.
func ensureVAPIDKeys(dir string) (publicKey, privateKey string, err error) {
	path := filepath.Join(dir, vapidKeysFileName)

	raw, err := os.ReadFile(path)
	if err == nil {
		var file vapidKeysFile
		if err := json.Unmarshal(raw, &file); err != nil {
			return "", "", fmt.Errorf("parse vapid keys file: %w", err)
		}
		if file.PublicKey == "" || file.PrivateKey == "" {
			return "", "", fmt.Errorf("vapid keys file %s is incomplete", path)
		}
		return file.PublicKey, file.PrivateKey, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", "", fmt.Errorf("read vapid keys file: %w", err)
	}

	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keypair: %w", err)
	}

	file := vapidKeysFile{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		CreatedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", fmt.Errorf("create keys dir: %w", err)
	}
	// Private key material: owner-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", "", fmt.Errorf("write vapid keys file: %w", err)
	}
	return publicKey, privateKey, nil
}
