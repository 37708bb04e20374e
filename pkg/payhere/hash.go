package payhere

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Signer produces and checks gateway signatures over an ordered field list.
type Signer interface {
	Sign(fields ...string) string
	Verify(signature string, fields ...string) bool
}

// Hasher implements the PayHere MD5 scheme:
//
//	upper(md5hex(field1 + field2 + ... + upper(md5hex(merchantSecret))))
type Hasher struct {
	secretHash string
}

var _ Signer = (*Hasher)(nil)

// NewHasher derives the secret hash once; the raw secret is not retained.
func NewHasher(merchantSecret string) *Hasher {
	return &Hasher{secretHash: md5Upper(merchantSecret)}
}

// Sign returns the uppercase hex signature of fields followed by the secret hash.
func (h *Hasher) Sign(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
	}
	b.WriteString(h.secretHash)
	return md5Upper(b.String())
}

// Verify recomputes the signature and compares in constant time. Hex case is
// ignored; malformed input simply fails.
func (h *Hasher) Verify(signature string, fields ...string) bool {
	if h == nil {
		return false
	}
	provided := strings.ToUpper(strings.TrimSpace(signature))
	if len(provided) != md5.Size*2 {
		return false
	}
	expected := h.Sign(fields...)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// CheckoutHash signs an outbound checkout or preapproval request.
func CheckoutHash(s Signer, merchantID, orderID, amount, currency string) string {
	return s.Sign(merchantID, orderID, amount, strings.ToUpper(currency))
}

// NotifySignature is the md5sig PayHere attaches to notify callbacks.
func NotifySignature(s Signer, merchantID, orderID, amount, currency, statusCode string) string {
	return s.Sign(merchantID, orderID, amount, strings.ToUpper(currency), statusCode)
}

// VerifyNotify checks a notify callback md5sig against its own fields.
func VerifyNotify(s Signer, signature, merchantID, orderID, amount, currency, statusCode string) bool {
	return s.Verify(signature, merchantID, orderID, amount, strings.ToUpper(currency), statusCode)
}

func md5Upper(value string) string {
	sum := md5.Sum([]byte(value))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
