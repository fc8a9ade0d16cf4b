/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package vrfkey keeps the VRF private key of the directory encrypted at rest under an
// operator held root key.
//
// Two schemes are supported. With a symmetric root key the VRF key is sealed directly
// with XChaCha20-Poly1305. With an RSA root key a fresh content key seals the VRF key and
// is itself wrapped with RSA-OAEP-SHA256. Records are looked up by the BLAKE2b-256 hash
// of the root key.
//
// The root key is never stored. Losing it makes every label mapping of the directory
// unverifiable and the directory unrecoverable.
package vrfkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"io"
	"os"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/CovenantSQL/keydir/conf"
	"github.com/CovenantSQL/keydir/types"
)

const (
	// SymmetricKeySize is the size of a symmetric root key and of a content key.
	SymmetricKeySize = chacha20poly1305.KeySize
	// DefaultRSABits is the modulus size of generated RSA root keys.
	DefaultRSABits = 3072
)

var (
	// ErrKeyUnwrapFailed is returned when a stored VRF key cannot be decrypted.
	ErrKeyUnwrapFailed = errors.New("vrf key unwrap failed")
	// ErrRootKeyMismatch is returned when VRF keys exist but none belongs to the root key.
	ErrRootKeyMismatch = errors.New("root key does not match the stored vrf key")
	// ErrInvalidRootKey is returned for unusable root key config.
	ErrInvalidRootKey = errors.New("invalid root key")
)

// random is the entropy source, swapped in tests.
var random io.Reader = rand.Reader

// RootKeyConfig is a parsed root key.
type RootKeyConfig struct {
	Type         types.RootKeyType
	SymmetricKey []byte
	RSAKey       *rsa.PrivateKey
}

// ParseConfig decodes the root key named by c.
func ParseConfig(c conf.RootKey) (*RootKeyConfig, error) {
	switch c.Type {
	case "", "symmetric":
		if c.SymmetricKey == "" {
			// Create draws the root key.
			return &RootKeyConfig{Type: types.SymmetricRootKey}, nil
		}
		key, err := base64.StdEncoding.DecodeString(c.SymmetricKey)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidRootKey, "symmetric key: %v", err)
		}
		return NewSymmetric(key)
	case "rsa":
		data, err := os.ReadFile(c.RSAKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read rsa root key")
		}
		return ParseRSA(data)
	default:
		return nil, errors.Wrapf(ErrInvalidRootKey, "unknown type %q", c.Type)
	}
}

// NewSymmetric returns the config of a symmetric root key.
func NewSymmetric(key []byte) (*RootKeyConfig, error) {
	if len(key) != SymmetricKeySize {
		return nil, errors.Wrapf(ErrInvalidRootKey, "symmetric key is %d bytes, want %d", len(key), SymmetricKeySize)
	}
	return &RootKeyConfig{Type: types.SymmetricRootKey, SymmetricKey: append([]byte(nil), key...)}, nil
}

// ParseRSA returns the config of a PEM encoded PKCS#1 or PKCS#8 RSA private key.
func ParseRSA(data []byte) (*RootKeyConfig, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.Wrap(ErrInvalidRootKey, "no pem block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &RootKeyConfig{Type: types.RSARootKey, RSAKey: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRootKey, "rsa key: %v", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidRootKey, "%T is not an rsa key", parsed)
	}
	return &RootKeyConfig{Type: types.RSARootKey, RSAKey: key}, nil
}

// Empty reports a symmetric config still waiting for Create to draw its key.
func (c *RootKeyConfig) Empty() bool {
	return c.Type == types.SymmetricRootKey && len(c.SymmetricKey) == 0
}

// EncodedSymmetricKey returns the base64 form of the symmetric root key, as stored in config.
func (c *RootKeyConfig) EncodedSymmetricKey() string {
	return base64.StdEncoding.EncodeToString(c.SymmetricKey)
}

// Hash returns the BLAKE2b-256 digest identifying the root key.
func (c *RootKeyConfig) Hash() []byte {
	var material []byte
	if c.Type == types.RSARootKey && c.RSAKey != nil {
		material = x509.MarshalPKCS1PrivateKey(c.RSAKey)
	} else {
		material = c.SymmetricKey
	}
	sum := blake2b.Sum256(material)
	return sum[:]
}

// VrfKey is the plaintext VRF private key. It formats as its public key fingerprint.
type VrfKey struct {
	seed []byte
}

// Bytes returns a copy of the raw VRF private key.
func (k *VrfKey) Bytes() []byte {
	return append([]byte(nil), k.seed...)
}

// PrivateKey returns the Ed25519 private key derived from the seed.
func (k *VrfKey) PrivateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(k.seed)
}

// PublicKey returns the public half of the VRF key.
func (k *VrfKey) PublicKey() ed25519.PublicKey {
	return k.PrivateKey().Public().(ed25519.PublicKey)
}

// Fingerprint returns a short hex digest of the public key, safe to log.
func (k *VrfKey) Fingerprint() string {
	sum := blake2b.Sum256(k.PublicKey())
	return hex.EncodeToString(sum[:8])
}

func (k *VrfKey) String() string { return "vrfkey:" + k.Fingerprint() }

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(random, b); err != nil {
		return nil, errors.Wrap(err, "read random")
	}
	return b, nil
}

// Create draws a fresh VRF key and seals it under the root key. A symmetric config
// without a key gets a freshly drawn one, stored into cfg for the caller to persist.
func Create(cfg *RootKeyConfig) (*types.VrfKeyRecord, *VrfKey, error) {
	seed, err := randomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Empty() {
		if cfg.SymmetricKey, err = randomBytes(SymmetricKeySize); err != nil {
			return nil, nil, err
		}
	}
	record := &types.VrfKeyRecord{RootKeyHash: cfg.Hash(), RootKeyType: cfg.Type}

	contentKey := cfg.SymmetricKey
	switch cfg.Type {
	case types.SymmetricRootKey:
		if len(contentKey) != SymmetricKeySize {
			return nil, nil, errors.Wrap(ErrInvalidRootKey, "symmetric key size")
		}
	case types.RSARootKey:
		if cfg.RSAKey == nil {
			return nil, nil, errors.Wrap(ErrInvalidRootKey, "missing rsa key")
		}
		if contentKey, err = randomBytes(SymmetricKeySize); err != nil {
			return nil, nil, err
		}
		record.EncSymKey, err = rsa.EncryptOAEP(sha256.New(), random, &cfg.RSAKey.PublicKey, contentKey, nil)
		if err != nil {
			return nil, nil, errors.Wrap(err, "wrap content key")
		}
	default:
		return nil, nil, errors.Wrapf(ErrInvalidRootKey, "type %s", cfg.Type)
	}

	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "init aead")
	}
	if record.Nonce, err = randomBytes(aead.NonceSize()); err != nil {
		return nil, nil, err
	}
	record.SymEncVrfKey = aead.Seal(nil, record.Nonce, seed, record.RootKeyHash)
	return record, &VrfKey{seed: seed}, nil
}

// Open decrypts record with the root key. Every decryption failure is reported as
// ErrKeyUnwrapFailed.
func Open(record *types.VrfKeyRecord, cfg *RootKeyConfig) (*VrfKey, error) {
	if record.RootKeyType != cfg.Type {
		return nil, errors.Wrap(ErrKeyUnwrapFailed, "root key type")
	}
	if len(record.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.Wrapf(ErrKeyUnwrapFailed, "nonce is %d bytes", len(record.Nonce))
	}

	contentKey := cfg.SymmetricKey
	if cfg.Type == types.RSARootKey {
		if cfg.RSAKey == nil {
			return nil, errors.Wrap(ErrInvalidRootKey, "missing rsa key")
		}
		var err error
		contentKey, err = rsa.DecryptOAEP(sha256.New(), nil, cfg.RSAKey, record.EncSymKey, nil)
		if err != nil {
			return nil, errors.Wrap(ErrKeyUnwrapFailed, "content key")
		}
	}

	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, errors.Wrap(ErrKeyUnwrapFailed, "content key size")
	}
	seed, err := aead.Open(nil, record.Nonce, record.SymEncVrfKey, record.RootKeyHash)
	if err != nil {
		return nil, errors.Wrap(ErrKeyUnwrapFailed, "authentication")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Wrapf(ErrKeyUnwrapFailed, "seed is %d bytes", len(seed))
	}
	return &VrfKey{seed: seed}, nil
}

// GenerateSymmetric returns a fresh base64 encoded symmetric root key.
func GenerateSymmetric() (string, error) {
	key, err := randomBytes(SymmetricKeySize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// GenerateRSA returns a fresh PEM encoded PKCS#1 RSA root key.
func GenerateRSA(bits int) ([]byte, error) {
	key, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, errors.Wrap(err, "generate rsa key")
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), nil
}
