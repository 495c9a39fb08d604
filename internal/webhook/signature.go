package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// SignatureHeader carries the hub's HMAC of the raw push body.
const SignatureHeader = "X-Hub-Signature"

var hashes = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// Sign returns the header value a hub sends for body, e.g. "sha1=<hex>".
func Sign(algo, secret string, body []byte) (string, error) {
	newHash, ok := hashes[algo]
	if !ok {
		return "", fmt.Errorf("unsupported signature algorithm %q", algo)
	}
	return algo + "=" + computeHMAC(newHash, body, secret), nil
}

func computeHMAC(newHash func() hash.Hash, payload []byte, secret string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseSignature splits "algo=hex" and decodes the digest.
func parseSignature(header string) (func() hash.Hash, []byte, error) {
	algo, digest, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok {
		return nil, nil, fmt.Errorf("signature %q has no algorithm", header)
	}
	newHash, ok := hashes[strings.ToLower(algo)]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported signature algorithm %q", algo)
	}
	sum, err := hex.DecodeString(strings.ToLower(digest))
	if err != nil {
		return nil, nil, fmt.Errorf("signature digest is not hex: %w", err)
	}
	return newHash, sum, nil
}

func validSignature(newHash func() hash.Hash, sum, body []byte, secret string) bool {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), sum)
}
