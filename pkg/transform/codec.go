package transform

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/polisai/enigma/pkg/config"
)

// Numbers keep their original text and object keys are emitted in sorted
// order, so equal values always serialise to equal bytes.
var json = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
	UseNumber:   true,
}.Froze()

const (
	prefixRandomized    = "ENC1:r:"
	prefixDeterministic = "ENC1:d:"
	prefixHash          = "HMAC1:"
)

var errNotEncrypted = errors.New("value is not an encrypted field")

func decodeObject(document string) (map[string]any, error) {
	var doc any
	if err := json.UnmarshalFromString(document, &doc); err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", kindOf(doc))
	}
	return obj, nil
}

func encodeObject(doc map[string]any) (string, error) {
	return json.MarshalToString(doc)
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}

// protect replaces one leaf value with its encoded form.
func (k *keySet) protect(path string, mode config.FieldMode, value any) (any, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	switch mode {
	case config.ModeHash:
		return prefixHash + base64.StdEncoding.EncodeToString(k.digest(path, plaintext)), nil
	case config.ModeDeterministic:
		sealed, err := k.seal(path, plaintext, true)
		if err != nil {
			return nil, err
		}
		return prefixDeterministic + base64.StdEncoding.EncodeToString(sealed), nil
	default:
		sealed, err := k.seal(path, plaintext, false)
		if err != nil {
			return nil, err
		}
		return prefixRandomized + base64.StdEncoding.EncodeToString(sealed), nil
	}
}

// reveal restores a value produced by protect. Hashed values are returned
// unchanged because they cannot be reversed.
func (k *keySet) reveal(path string, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errNotEncrypted
	}
	if strings.HasPrefix(s, prefixHash) {
		return s, nil
	}

	var payload string
	switch {
	case strings.HasPrefix(s, prefixRandomized):
		payload = s[len(prefixRandomized):]
	case strings.HasPrefix(s, prefixDeterministic):
		payload = s[len(prefixDeterministic):]
	default:
		return nil, errNotEncrypted
	}

	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("ciphertext is not valid base64")
	}
	plaintext, err := k.open(path, sealed)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, fmt.Errorf("decrypted value is not JSON: %w", err)
	}
	return out, nil
}
