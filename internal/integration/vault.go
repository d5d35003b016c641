// Package integration talks to the external fiscal authority on behalf of
// completed documents. Credential material is kept encrypted at rest and
// only decrypted inside a scoped call that zeroes the plaintext on every
// exit path.
package integration

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/pkcs12"

	"github.com/notaflow/notaflow/internal/domain"
)

const (
	kdfIterations = 100_000
	kdfKeyLen     = 32
	saltLen       = 16
)

// Vault seals and opens certificate material with AES-256-GCM under a key
// derived from the vault passphrase via PBKDF2-HMAC-SHA256.
type Vault struct {
	passphrase []byte
}

// NewVault builds a vault from the configured passphrase.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase must not be empty")
	}
	return &Vault{passphrase: []byte(passphrase)}, nil
}

func (v *Vault) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(v.passphrase, salt, kdfIterations, kdfKeyLen, sha256.New)
}

// Seal encrypts material under a fresh random salt. The returned blob is
// nonce-prefixed ciphertext; salt is stored alongside it.
func (v *Vault) Seal(material []byte) (sealed, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := v.deriveKey(salt)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed = gcm.Seal(nonce, nonce, material, nil)
	return sealed, salt, nil
}

func (v *Vault) open(sealed, salt []byte) ([]byte, error) {
	key := v.deriveKey(salt)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed blob is truncated")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	material, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed credential: %w", err)
	}
	return material, nil
}

// WithMaterial decrypts the certificate's key material, hands it to fn and
// zeroes it before returning, whether fn succeeds or not. Expired
// certificates are refused before any decryption happens.
func (v *Vault) WithMaterial(cert domain.Certificate, now time.Time, fn func(material []byte) error) error {
	if cert.IsExpired(now) {
		return fmt.Errorf("certificate %s: %w", cert.Alias, domain.ErrCertificateExpired)
	}
	material, err := v.open(cert.Sealed, cert.Salt)
	if err != nil {
		return err
	}
	defer zero(material)
	return fn(material)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// InspectPKCS12 decodes an uploaded PKCS#12 bundle and returns the leaf
// certificate metadata captured at upload time. The decoded private key is
// not retained; only the original bundle is sealed.
func InspectPKCS12(bundle []byte, password string) (*x509.Certificate, error) {
	_, cert, err := pkcs12.Decode(bundle, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pkcs12 bundle: %w", err)
	}
	return cert, nil
}

// ImportCertificate seals a PKCS#12 bundle and builds the stored record
// with its metadata.
func (v *Vault) ImportCertificate(alias, cnpj string, bundle []byte, password string) (domain.Certificate, error) {
	leaf, err := InspectPKCS12(bundle, password)
	if err != nil {
		return domain.Certificate{}, err
	}
	sealed, salt, err := v.Seal(bundle)
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("failed to seal certificate: %w", err)
	}
	return domain.Certificate{
		ID:        uuid.New(),
		Alias:     alias,
		CNPJ:      cnpj,
		Subject:   leaf.Subject.String(),
		Issuer:    leaf.Issuer.String(),
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
		Sealed:    sealed,
		Salt:      salt,
		CreatedAt: time.Now(),
	}, nil
}
