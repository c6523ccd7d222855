package keys

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/foxboron/go-uefi/efi"
	"github.com/foxboron/go-uefi/efi/signature"
)

// EnrolledDatabase is the decoded content of one firmware signature
// database variable.
type EnrolledDatabase struct {
	Name string
	DB   *signature.SignatureDatabase
}

// ReadEnrolled returns the PK, KEK and db contents as firmware reports
// them.
func ReadEnrolled() ([]EnrolledDatabase, error) {
	pk, err := efi.GetPK()
	if err != nil {
		return nil, fmt.Errorf("reading PK: %w", err)
	}
	kek, err := efi.GetKEK()
	if err != nil {
		return nil, fmt.Errorf("reading KEK: %w", err)
	}
	db, err := efi.Getdb()
	if err != nil {
		return nil, fmt.Errorf("reading db: %w", err)
	}
	return []EnrolledDatabase{
		{Name: "PK", DB: pk},
		{Name: "KEK", DB: kek},
		{Name: "db", DB: db},
	}, nil
}

// FormatDatabase writes a human-readable listing of one signature
// database. X.509 entries show the certificate subject, hash entries
// the digest; anything else falls back to the scheme GUID and size.
func FormatDatabase(w io.Writer, d EnrolledDatabase) {
	fmt.Fprintf(w, "%s:\n", d.Name)
	if d.DB == nil || len(*d.DB) == 0 {
		fmt.Fprintf(w, "  (empty)\n")
		return
	}
	for _, list := range *d.DB {
		for _, sig := range list.Signatures {
			switch list.SignatureType {
			case signature.CERT_X509_GUID:
				cert, err := x509.ParseCertificate(sig.Data)
				if err != nil {
					fmt.Fprintf(w, "  x509    unparseable certificate (%d bytes)  owner %s\n",
						len(sig.Data), sig.Owner.Format())
					continue
				}
				fmt.Fprintf(w, "  x509    %s  owner %s\n", cert.Subject.CommonName, sig.Owner.Format())
			case signature.CERT_SHA256_GUID:
				fmt.Fprintf(w, "  sha256  %s  owner %s\n", hex.EncodeToString(sig.Data), sig.Owner.Format())
			default:
				fmt.Fprintf(w, "  %s  %d bytes  owner %s\n",
					list.SignatureType.Format(), len(sig.Data), sig.Owner.Format())
			}
		}
	}
}
