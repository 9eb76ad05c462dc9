package pkgload

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterations is the PBKDF2 work factor used for new packages.
const DefaultIterations = 100_000

const checkValue = "cpeer-flash package key check"

// DeriveKey turns the shared package password into an AES-256 key.
func DeriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
}

// Seal encrypts plain with AES-GCM. The nonce is prepended to the result.
func Seal(key, plain []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed data too short")
	}
	nonce, data := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// NewEncryption creates the encryption header for a password and the encrypted nodes.
func NewEncryption(password string, nodes []int) (*Encryption, []byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, err
	}
	key := DeriveKey(password, salt, DefaultIterations)

	check, err := Seal(key, []byte(checkValue))
	if err != nil {
		return nil, nil, err
	}

	return &Encryption{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: DefaultIterations,
		Check:      base64.StdEncoding.EncodeToString(check),
		Nodes:      append([]int(nil), nodes...),
	}, key, nil
}

// unlock derives the key and proves it against the check value.
func (e *Encryption) unlock(password string) ([]byte, error) {
	if password == "" {
		return nil, &AuthError{Reason: "the package is encrypted but no password was given"}
	}

	salt, err := base64.StdEncoding.DecodeString(e.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption salt: %v", ErrCorrupt, err)
	}
	check, err := base64.StdEncoding.DecodeString(e.Check)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption check: %v", ErrCorrupt, err)
	}
	iterations := e.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	key := DeriveKey(password, salt, iterations)
	plain, err := Open(key, check)
	if err != nil || string(plain) != checkValue {
		return nil, &AuthError{Reason: "wrong password"}
	}
	return key, nil
}

// LoadPublicKey reads a PEM encoded PKIX public key.
func LoadPublicKey(path string) (crypto.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block", path)
	}
	return x509.ParsePKIXPublicKey(block.Bytes)
}

// LoadPrivateKey reads a PEM encoded PKCS#8, SEC 1 or PKCS#1 private key.
func LoadPrivateKey(path string) (crypto.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block", path)
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%s: key type %T cannot sign", path, key)
	}
	return signer, nil
}

// Sign creates the detached manifest signature with an ECDSA, RSA or Ed25519 key.
func Sign(key crypto.Signer, manifest []byte) ([]byte, error) {
	digest := sha256.Sum256(manifest)
	switch key.(type) {
	case ed25519.PrivateKey:
		return key.Sign(rand.Reader, manifest, crypto.Hash(0))
	default:
		return key.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
}

// Verify checks a detached manifest signature.
func Verify(pub crypto.PublicKey, manifest, sig []byte) error {
	digest := sha256.Sum256(manifest)

	var ok bool
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		ok = ecdsa.VerifyASN1(k, digest[:], sig)
	case *rsa.PublicKey:
		ok = rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], sig) == nil
	case ed25519.PublicKey:
		ok = ed25519.Verify(k, manifest, sig)
	default:
		return &AuthError{Reason: fmt.Sprintf("unsupported public key type %T", pub)}
	}

	if !ok {
		return &AuthError{Reason: "manifest signature does not match the public key"}
	}
	return nil
}
