package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Hash computes the canonical SHA-256 hex digest of a request payload.
// The payload is deep-normalized first so that key order and number
// formatting differences between otherwise identical requests do not
// change the digest: object keys are sorted, and fractional numbers
// (money) are quantized to two decimal places and stringified.
func Hash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal payload")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", errors.Wrap(err, "decode payload")
	}

	canonical, err := json.Marshal(normalize(generic))
	if err != nil {
		return "", errors.Wrap(err, "marshal canonical form")
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// normalize walks the decoded JSON value. Maps keep map form (Go's
// json.Marshal emits map keys sorted); fractional numbers become
// quantized 2-decimal strings; integers stay numeric.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			return t
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return t
		}
		return d.Round(2).StringFixed(2)
	default:
		return v
	}
}
