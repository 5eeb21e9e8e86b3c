// Package batchtoken packs a list of item ids into a query-string token.
//
// The format is base64(JSON array), byte-for-byte what a browser produces with
// btoa(JSON.stringify(ids)), so tokens stay interchangeable with existing clients.
// A JSON array of integers only uses characters whose encoding avoids '+' and
// '/', so tokens can be placed in a query string unescaped.
package batchtoken

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docket-desk/internal/domain"
)

// Encode returns the token for ids. Order is preserved and duplicates are kept.
func Encode(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	for _, id := range ids {
		if id < 0 {
			return "", fmt.Errorf("negative id %d: %w", id, domain.ErrBadRequest)
		}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal ids: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// MustEncode is Encode for ids already known to be non-negative.
func MustEncode(ids []int64) string {
	tok, err := Encode(ids)
	if err != nil {
		panic(err)
	}
	return tok
}

// Decode reverses Encode. Any input that is not base64 of a JSON array of
// non-negative integers fails with domain.ErrMalformedToken.
func Decode(token string) ([]int64, error) {
	raw, err := decodeBase64(token)
	if err != nil {
		return nil, fmt.Errorf("token is not base64: %w", domain.ErrMalformedToken)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("token is not a JSON array: %w", domain.ErrMalformedToken)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("token is not a JSON array: %w", domain.ErrMalformedToken)
	}
	ids := make([]int64, 0, len(elems))
	for i, e := range elems {
		if bytes.Equal(bytes.TrimSpace(e), []byte("null")) {
			return nil, fmt.Errorf("element %d is null: %w", i, domain.ErrMalformedToken)
		}
		var id int64
		if err := json.Unmarshal(e, &id); err != nil {
			return nil, fmt.Errorf("element %d is not an integer: %w", i, domain.ErrMalformedToken)
		}
		if id < 0 {
			return nil, fmt.Errorf("element %d is negative: %w", i, domain.ErrMalformedToken)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// decodeBase64 accepts the standard alphabet first, then the URL-safe and
// unpadded variants.
func decodeBase64(token string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(token)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
