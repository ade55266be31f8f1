package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"

	"github.com/marcelsud/webhook-intake/webhook"
)

const (
	// SHA1Prefix prefixes hex HMAC-SHA1 signatures of Graph API providers
	SHA1Prefix = "sha1="

	// SHA256Prefix prefixes hex HMAC-SHA256 signatures
	SHA256Prefix = "sha256="
)

var (
	ErrMissingSecret    = errors.New("integration has no webhook secret")
	ErrMissingSignature = errors.New("signature header is missing")
	ErrMismatch         = errors.New("signature mismatch")
)

// Scheme describes how a provider signs its deliveries
type Scheme struct {
	Hash   func() hash.Hash
	Prefix string
	Base64 bool
}

var (
	graphScheme      = Scheme{Hash: sha1.New, Prefix: SHA1Prefix}
	sha256Scheme     = Scheme{Hash: sha256.New, Prefix: SHA256Prefix}
	salesforceScheme = Scheme{Hash: sha256.New, Base64: true}
	pipedriveScheme  = Scheme{Hash: sha1.New}
)

// SchemeFor returns the signing scheme of a platform; unknown platforms use sha256=<hex>
func SchemeFor(platform webhook.Platform) Scheme {
	switch platform {
	case webhook.Instagram, webhook.Facebook:
		return graphScheme
	case webhook.TikTok, webhook.HubSpot:
		return sha256Scheme
	case webhook.Salesforce:
		return salesforceScheme
	case webhook.Pipedrive:
		return pipedriveScheme
	default:
		return sha256Scheme
	}
}

// Sign computes the signature string of body with the given scheme
func (s Scheme) Sign(secret string, body []byte) string {
	mac := hmac.New(s.Hash, []byte(secret))
	mac.Write(body)
	digest := mac.Sum(nil)

	if s.Base64 {
		return s.Prefix + base64.StdEncoding.EncodeToString(digest)
	}
	return s.Prefix + hex.EncodeToString(digest)
}

// Compute returns the signature the platform is expected to send for body
func Compute(platform webhook.Platform, secret string, body []byte) string {
	return SchemeFor(platform).Sign(secret, body)
}

// Equal compares two signatures in constant time for equal lengths
// Strings of different length are rejected immediately
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// Verifier validates inbound deliveries against an integration secret
type Verifier struct {
	// SkipVerification accepts every delivery. Development and tests only.
	SkipVerification bool
}

// Verify checks a claimed signature; a missing secret or header fails closed
func (v Verifier) Verify(platform webhook.Platform, secret, claimed string, body []byte) error {
	if v.SkipVerification {
		return nil
	}
	if secret == "" {
		return ErrMissingSecret
	}
	if claimed == "" {
		return ErrMissingSignature
	}
	if !Equal(Compute(platform, secret, body), claimed) {
		return ErrMismatch
	}
	return nil
}

// HeaderNames lists the headers a platform may carry its signature in, by priority
func HeaderNames(platform webhook.Platform) []string {
	switch platform {
	case webhook.Instagram, webhook.Facebook:
		return []string{"X-Hub-Signature"}
	case webhook.TikTok:
		return []string{"X-Tiktok-Signature", "X-Signature"}
	case webhook.HubSpot:
		return []string{"X-Hubspot-Signature", "X-Signature"}
	case webhook.Salesforce:
		return []string{"X-Salesforce-Signature", "X-Signature"}
	case webhook.Pipedrive:
		return []string{"X-Pipedrive-Signature", "X-Signature"}
	default:
		return []string{"X-Signature", "X-Hub-Signature"}
	}
}

// FromHeader returns the first signature header present for the platform
func FromHeader(platform webhook.Platform, header http.Header) string {
	for _, name := range HeaderNames(platform) {
		if value := header.Get(name); value != "" {
			return value
		}
	}
	return ""
}
