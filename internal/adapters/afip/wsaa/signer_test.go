package wsaa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
)

// testCredentials returns a self-signed certificate and its PKCS#1 key in PEM.
func testCredentials(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "facturacion-test", SerialNumber: "CUIT 20123456786"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func TestSigner_Sign(t *testing.T) {
	certPEM, keyPEM := testCredentials(t)
	signer, err := NewSigner(certPEM, keyPEM)
	require.NoError(t, err)

	content := []byte("<loginTicketRequest/>")
	der, err := signer.Sign(content)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	assert.Equal(t, content, p7.Content, "content must be attached")
	require.Len(t, p7.Certificates, 1)
	assert.Equal(t, "facturacion-test", p7.Certificates[0].Subject.CommonName)
	require.NoError(t, p7.Verify())
	require.Len(t, p7.Signers, 1)
	assert.True(t, p7.Signers[0].DigestAlgorithm.Algorithm.Equal(pkcs7.OIDDigestAlgorithmSHA256))
}

func TestLoadSigner(t *testing.T) {
	certPEM, keyPEM := testCredentials(t)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	signer, err := LoadSigner(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, "facturacion-test", signer.Certificate().Subject.CommonName)

	_, err = LoadSigner(filepath.Join(dir, "missing.pem"), keyPath)
	assert.Error(t, err)
}

func TestNewSigner_InvalidInput(t *testing.T) {
	certPEM, _ := testCredentials(t)

	_, err := NewSigner([]byte("not pem"), []byte("not pem"))
	assert.ErrorContains(t, err, "certificate is not PEM encoded")

	_, err = NewSigner(certPEM, []byte("not pem"))
	assert.ErrorContains(t, err, "private key is not PEM encoded")

	garbage := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})
	_, err = NewSigner(certPEM, garbage)
	assert.ErrorContains(t, err, "unsupported key format")
}

func TestBuildLoginTicketRequest(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	tra, err := BuildLoginTicketRequest("wsfe", now)
	require.NoError(t, err)

	s := string(tra)
	assert.Contains(t, s, `<loginTicketRequest version="1.0">`)
	assert.Contains(t, s, "<uniqueId>1773154800</uniqueId>")
	assert.Contains(t, s, "<generationTime>2026-03-10T11:50:00-03:00</generationTime>")
	assert.Contains(t, s, "<expirationTime>2026-03-10T23:50:00-03:00</expirationTime>")
	assert.Contains(t, s, "<service>wsfe</service>")

	_, err = BuildLoginTicketRequest("", now)
	assert.Error(t, err)
}
