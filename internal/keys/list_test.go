package keys

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/foxboron/go-uefi/efi/signature"
	"github.com/foxboron/go-uefi/efi/util"
	"github.com/stretchr/testify/require"
)

func testCertDER(t *testing.T, commonName string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func TestFormatDatabaseX509(t *testing.T) {
	owner := util.EFIGUID{
		Data1: 0x11111111, Data2: 0x2222, Data3: 0x3333,
		Data4: [8]uint8{4, 4, 4, 4, 4, 4, 4, 4},
	}
	db := signature.SignatureDatabase{
		&signature.SignatureList{
			SignatureType: signature.CERT_X509_GUID,
			Signatures: []signature.SignatureData{
				{Owner: owner, Data: testCertDER(t, "Secure Boot PK")},
			},
		},
	}

	var buf bytes.Buffer
	FormatDatabase(&buf, EnrolledDatabase{Name: "PK", DB: &db})

	out := buf.String()
	require.Contains(t, out, "PK:")
	require.Contains(t, out, "x509")
	require.Contains(t, out, "Secure Boot PK")
}

func TestFormatDatabaseHashes(t *testing.T) {
	digest := bytes.Repeat([]byte{0xab}, 32)
	db := signature.SignatureDatabase{
		&signature.SignatureList{
			SignatureType: signature.CERT_SHA256_GUID,
			Signatures:    []signature.SignatureData{{Data: digest}},
		},
	}

	var buf bytes.Buffer
	FormatDatabase(&buf, EnrolledDatabase{Name: "db", DB: &db})

	require.Contains(t, buf.String(), strings.Repeat("ab", 32))
}

func TestFormatDatabaseBadCertificate(t *testing.T) {
	db := signature.SignatureDatabase{
		&signature.SignatureList{
			SignatureType: signature.CERT_X509_GUID,
			Signatures:    []signature.SignatureData{{Data: []byte("not a certificate")}},
		},
	}

	var buf bytes.Buffer
	FormatDatabase(&buf, EnrolledDatabase{Name: "db", DB: &db})

	require.Contains(t, buf.String(), "unparseable")
}

func TestFormatDatabaseEmpty(t *testing.T) {
	var buf bytes.Buffer
	FormatDatabase(&buf, EnrolledDatabase{Name: "KEK", DB: &signature.SignatureDatabase{}})
	require.Contains(t, buf.String(), "(empty)")

	buf.Reset()
	FormatDatabase(&buf, EnrolledDatabase{Name: "KEK"})
	require.Contains(t, buf.String(), "(empty)")
}
