// Package tlscred implements the TLS credential collaborator (§6): the
// locally held certificate/key pair, and SKI (subject-key-identifier)
// computation and validation.
package tlscred

import (
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/enbility/eebus-core/internal/eebuserrors"
)

// Credential holds the local TLS certificate/key pair plus its derived SKI.
type Credential struct {
	Certificate tls.Certificate
	SKI         string // lowercase hex, no separators
}

// Load parses a PEM-encoded certificate+key pair into a Credential and
// validates that the certificate's stored subject-key-identifier (if
// present) matches the SKI computed from its public key (§6: "mismatch
// is a fatal configuration error").
func Load(certPEM, keyPEM []byte) (*Credential, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, eebuserrors.Wrap(eebuserrors.KindInit, "failed to parse certificate/key pair", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, eebuserrors.Wrap(eebuserrors.KindInit, "failed to parse leaf certificate", err)
	}

	computed, err := ComputeSKI(leaf.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, eebuserrors.Wrap(eebuserrors.KindInit, "failed to compute SKI", err)
	}

	if len(leaf.SubjectKeyId) > 0 {
		stored := hex.EncodeToString(leaf.SubjectKeyId)
		if stored != computed {
			return nil, eebuserrors.New(eebuserrors.KindInit, fmt.Sprintf("certificate subject-key-identifier %s does not match computed SKI %s", stored, computed))
		}
	}

	return &Credential{Certificate: cert, SKI: computed}, nil
}

// ComputeSKI computes the SKI as the SHA-1 of the DER-encoded
// SubjectPublicKeyInfo's raw BIT STRING contents, ignoring the outer
// SEQUENCE header and the unused-bits byte (§6).
func ComputeSKI(subjectPublicKeyInfo []byte) (string, error) {
	input := cryptobyte.String(subjectPublicKeyInfo)
	var spki cryptobyte.String
	if !input.ReadASN1(&spki, cryptobyte_asn1.SEQUENCE) {
		return "", eebuserrors.New(eebuserrors.KindParse, "SubjectPublicKeyInfo is not a valid DER SEQUENCE")
	}

	// Skip the AlgorithmIdentifier SEQUENCE that precedes the public key
	// BIT STRING.
	var algorithmIdentifier cryptobyte.String
	if !spki.ReadASN1(&algorithmIdentifier, cryptobyte_asn1.SEQUENCE) {
		return "", eebuserrors.New(eebuserrors.KindParse, "SubjectPublicKeyInfo missing AlgorithmIdentifier")
	}

	var bitString asn1.BitString
	var rawBitString cryptobyte.String
	if !spki.ReadASN1(&rawBitString, cryptobyte_asn1.BIT_STRING) {
		return "", eebuserrors.New(eebuserrors.KindParse, "SubjectPublicKeyInfo missing public key BIT STRING")
	}
	if len(rawBitString) == 0 {
		return "", eebuserrors.New(eebuserrors.KindParse, "public key BIT STRING is empty")
	}
	// First content byte is the count of unused bits in the final octet;
	// the SKI is computed over the key bits that follow it.
	bitString.BitLength = (len(rawBitString) - 1) * 8
	bitString.Bytes = []byte(rawBitString[1:])

	sum := sha1.Sum(bitString.Bytes)
	return hex.EncodeToString(sum[:]), nil
}
