// Package signature implements the EasyPay parameter signing scheme shared by
// outbound checkout submissions and inbound payment notifications.
package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	FieldSign     = "sign"
	FieldSignType = "sign_type"
	SignTypeMD5   = "MD5"
)

// Canonical drops empty values and the sign fields, sorts by key and joins as k=v&k=v.
func Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == FieldSign || k == FieldSignType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	return sb.String()
}

// Sign returns the lowercase hex MD5 of the canonical string with the raw secret appended.
func Sign(params map[string]string, secret string) string {
	sum := md5.Sum([]byte(Canonical(params) + secret))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest over params (ignoring the inbound sign) and compares it with params["sign"].
func Verify(params map[string]string, secret string) bool {
	received := params[FieldSign]
	if received == "" {
		return false
	}
	expected := Sign(params, secret)
	return subtle.ConstantTimeCompare([]byte(received), []byte(expected)) == 1
}
