package sshutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// DefaultKeyBits is the RSA modulus size for generated user keys.
const DefaultKeyBits = 2048

// GenerateUserKey creates an RSA user key and returns it PEM encoded in the
// OpenSSH private key format.
func GenerateUserKey(bits int) ([]byte, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(key, "scmkit")
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	return pem.EncodeToMemory(block), nil
}

// Fingerprints holds the printable fingerprints of a public key.
type Fingerprints struct {
	SHA256 string `json:"sha256" yaml:"sha256"`
	MD5    string `json:"md5" yaml:"md5"`
}

// Fingerprint returns the SHA256 and legacy MD5 fingerprints of key.
func Fingerprint(key ssh.PublicKey) Fingerprints {
	return Fingerprints{
		SHA256: ssh.FingerprintSHA256(key),
		MD5:    ssh.FingerprintLegacyMD5(key),
	}
}

// AuthorizedKeyLine renders key as a single authorized_keys line.
func AuthorizedKeyLine(key ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
}
