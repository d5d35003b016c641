package integration

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/notaflow/notaflow/internal/domain"
)

func testCert(t *testing.T, v *Vault, material []byte) domain.Certificate {
	t.Helper()
	sealed, salt, err := v.Seal(material)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return domain.Certificate{
		ID:        uuid.New(),
		Alias:     "test",
		CNPJ:      "11222333000181",
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(time.Hour),
		Sealed:    sealed,
		Salt:      salt,
	}
}

func TestVaultRoundTrip(t *testing.T) {
	v, err := NewVault("master-pass")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	material := []byte("pkcs12 bundle bytes")
	cert := testCert(t, v, material)

	var seen []byte
	err = v.WithMaterial(cert, time.Now(), func(m []byte) error {
		seen = append([]byte(nil), m...)
		return nil
	})
	if err != nil {
		t.Fatalf("WithMaterial: %v", err)
	}
	if !bytes.Equal(seen, material) {
		t.Error("decrypted material does not match the original")
	}
}

func TestVaultZeroesMaterialOnAllExits(t *testing.T) {
	v, _ := NewVault("master-pass")
	cert := testCert(t, v, []byte("secret material"))

	var handed []byte
	_ = v.WithMaterial(cert, time.Now(), func(m []byte) error {
		handed = m // keep the slice to observe zeroing
		return nil
	})
	if !bytes.Equal(handed, make([]byte, len(handed))) {
		t.Error("material not zeroed after successful call")
	}

	handed = nil
	_ = v.WithMaterial(cert, time.Now(), func(m []byte) error {
		handed = m
		return errors.New("call failed")
	})
	if !bytes.Equal(handed, make([]byte, len(handed))) {
		t.Error("material not zeroed after failed call")
	}
}

func TestVaultRejectsWrongPassphrase(t *testing.T) {
	v1, _ := NewVault("right")
	cert := testCert(t, v1, []byte("material"))

	v2, _ := NewVault("wrong")
	err := v2.WithMaterial(cert, time.Now(), func([]byte) error { return nil })
	if err == nil {
		t.Fatal("expected decryption with the wrong passphrase to fail")
	}
}

func TestVaultRefusesExpiredCertificate(t *testing.T) {
	v, _ := NewVault("master-pass")
	cert := testCert(t, v, []byte("material"))
	cert.NotAfter = time.Now().Add(-time.Minute)

	called := false
	err := v.WithMaterial(cert, time.Now(), func([]byte) error {
		called = true
		return nil
	})
	if !errors.Is(err, domain.ErrCertificateExpired) {
		t.Fatalf("err = %v, want ErrCertificateExpired", err)
	}
	if called {
		t.Error("expired certificate must never be decrypted")
	}
}

func TestManifestationEventCodes(t *testing.T) {
	cases := map[ManifestationAction]string{
		ManifestCiencia:         "210210",
		ManifestConfirmacao:     "210200",
		ManifestDesconhecimento: "210220",
		ManifestNaoRealizada:    "210240",
	}
	for action, want := range cases {
		code, ok := action.EventCode()
		if !ok || code != want {
			t.Errorf("%s: code = %q, want %q", action, code, want)
		}
	}
	if _, ok := ManifestationAction("other").EventCode(); ok {
		t.Error("unknown action must not map to a code")
	}
}
