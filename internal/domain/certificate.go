package domain

import (
	"time"

	"github.com/google/uuid"
)

// Certificate is the stored metadata and sealed material of an A1 digital
// certificate used to authenticate against the tax authority. Key material
// is only ever held decrypted inside a scoped callback; at rest it lives in
// Sealed, encrypted with a key derived from the vault passphrase and Salt.
type Certificate struct {
	ID        uuid.UUID `json:"id"`
	Alias     string    `json:"alias"`
	CNPJ      string    `json:"cnpj"`
	Subject   string    `json:"subject,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	Sealed    []byte    `json:"-"`
	Salt      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the certificate is outside its validity window
// at the given instant.
func (c Certificate) IsExpired(now time.Time) bool {
	return now.Before(c.NotBefore) || now.After(c.NotAfter)
}
