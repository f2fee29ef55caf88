package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const (
	infoEncryption = "enigma/v1 field encryption"
	infoNonce      = "enigma/v1 deterministic nonce"
	infoHash       = "enigma/v1 field hash"
)

// keySet holds the subkeys derived from one master key.
type keySet struct {
	aead     cipher.AEAD
	nonceKey []byte
	hashKey  []byte
}

func deriveKeys(master []byte) (*keySet, error) {
	encKey, err := hkdf.Key(sha256.New, master, nil, infoEncryption, 32)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	nonceKey, err := hkdf.Key(sha256.New, master, nil, infoNonce, 32)
	if err != nil {
		return nil, fmt.Errorf("derive nonce key: %w", err)
	}
	hashKey, err := hkdf.Key(sha256.New, master, nil, infoHash, 32)
	if err != nil {
		return nil, fmt.Errorf("derive hash key: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &keySet{aead: aead, nonceKey: nonceKey, hashKey: hashKey}, nil
}

func keyedDigest(key []byte, path string, plaintext []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(path))
	mac.Write([]byte{0})
	mac.Write(plaintext)
	return mac.Sum(nil)
}

// seal encrypts plaintext for path. A deterministic seal derives the nonce
// from the plaintext so equal values produce equal output.
func (k *keySet) seal(path string, plaintext []byte, deterministic bool) ([]byte, error) {
	size := k.aead.NonceSize()
	out := make([]byte, size, size+len(plaintext)+k.aead.Overhead())
	if deterministic {
		copy(out, keyedDigest(k.nonceKey, path, plaintext))
	} else if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return k.aead.Seal(out, out[:size], plaintext, []byte(path)), nil
}

func (k *keySet) open(path string, sealed []byte) ([]byte, error) {
	size := k.aead.NonceSize()
	if len(sealed) < size+k.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plaintext, err := k.aead.Open(nil, sealed[:size], sealed[size:], []byte(path))
	if err != nil {
		return nil, fmt.Errorf("ciphertext failed authentication")
	}
	return plaintext, nil
}

func (k *keySet) digest(path string, plaintext []byte) []byte {
	return keyedDigest(k.hashKey, path, plaintext)
}
