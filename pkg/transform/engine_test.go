package transform

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/enigma/pkg/config"
	"github.com/polisai/enigma/pkg/domain"
)

func testSnapshot(t testing.TB, fields string) *config.Snapshot {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("m", config.MasterKeySize)))
	crypt, err := config.ParseCryptConfig([]byte("key: " + key + "\nfields:\n" + fields))
	require.NoError(t, err)
	return &config.Snapshot{Generation: 1, Source: "test", Crypt: crypt}
}

const testFields = `
  - path: ssn
    mode: deterministic
  - path: patient.notes
    mode: randomized
  - path: contacts.email
    mode: hash
  - path: tags
    mode: deterministic
`

func decode(t *testing.T, doc string) map[string]any {
	t.Helper()
	out, err := decodeObject(doc)
	require.NoError(t, err)
	return out
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	engine := New(nil)
	snap := testSnapshot(t, testFields)
	ctx := context.Background()

	input := `{"id":12345678901234567890,"ssn":"123-45-6789","patient":{"name":"Ann","notes":{"allergies":["nuts"],"weight":61.5}},"tags":["a","b",null]}`

	encrypted, err := engine.Transform(ctx, domain.OperationEncrypt, snap, input)
	require.NoError(t, err)

	enc := decode(t, encrypted)
	assert.True(t, strings.HasPrefix(enc["ssn"].(string), prefixDeterministic))
	notes := enc["patient"].(map[string]any)["notes"].(string)
	assert.True(t, strings.HasPrefix(notes, prefixRandomized))
	assert.Equal(t, "Ann", enc["patient"].(map[string]any)["name"])
	tags := enc["tags"].([]any)
	require.Len(t, tags, 3)
	assert.True(t, strings.HasPrefix(tags[0].(string), prefixDeterministic))
	assert.Nil(t, tags[2])
	assert.Contains(t, encrypted, `"id":12345678901234567890`)

	decrypted, err := engine.Transform(ctx, domain.OperationDecrypt, snap, encrypted)
	require.NoError(t, err)
	assert.JSONEq(t, input, decrypted)
}

func TestEncryptTraversesArrays(t *testing.T) {
	engine := New(nil)
	snap := testSnapshot(t, testFields)

	out, err := engine.Transform(context.Background(), domain.OperationEncrypt, snap,
		`{"contacts":[{"email":"a@example.com"},{"email":"b@example.com"},{"phone":"555"}]}`)
	require.NoError(t, err)

	contacts := decode(t, out)["contacts"].([]any)
	for _, c := range contacts[:2] {
		assert.True(t, strings.HasPrefix(c.(map[string]any)["email"].(string), prefixHash))
	}
	assert.Equal(t, "555", contacts[2].(map[string]any)["phone"])
}

func TestDeterministicAndRandomizedModes(t *testing.T) {
	engine := New(nil)
	snap := testSnapshot(t, testFields)
	ctx := context.Background()
	doc := `{"ssn":"123","patient":{"notes":"same"}}`

	first, err := engine.Transform(ctx, domain.OperationEncrypt, snap, doc)
	require.NoError(t, err)
	second, err := engine.Transform(ctx, domain.OperationEncrypt, snap, doc)
	require.NoError(t, err)

	a, b := decode(t, first), decode(t, second)
	assert.Equal(t, a["ssn"], b["ssn"])
	assert.NotEqual(t, a["patient"], b["patient"])
}

func TestDecryptLeavesHashes(t *testing.T) {
	engine := New(nil)
	snap := testSnapshot(t, testFields)
	ctx := context.Background()

	encrypted, err := engine.Transform(ctx, domain.OperationEncrypt, snap, `{"contacts":{"email":"a@example.com"}}`)
	require.NoError(t, err)

	decrypted, err := engine.Transform(ctx, domain.OperationDecrypt, snap, encrypted)
	require.NoError(t, err)
	assert.Equal(t, encrypted, decrypted)
}

func TestDecryptFailures(t *testing.T) {
	engine := New(nil)
	snap := testSnapshot(t, testFields)
	ctx := context.Background()

	encrypted, err := engine.Transform(ctx, domain.OperationEncrypt, snap, `{"ssn":"123"}`)
	require.NoError(t, err)
	ciphertext := decode(t, encrypted)["ssn"].(string)

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, prefixDeterministic))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01
	tampered := prefixDeterministic + base64.StdEncoding.EncodeToString(sealed)

	tests := []struct {
		name string
		doc  string
	}{
		{"plaintext value", `{"ssn":"123"}`},
		{"non string value", `{"ssn":42}`},
		{"bad base64", `{"ssn":"ENC1:d:***"}`},
		{"too short", `{"ssn":"ENC1:d:AAAA"}`},
		{"tampered", `{"ssn":"` + tampered + `"}`},
		{"moved to another field", `{"tags":"` + ciphertext + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Transform(ctx, domain.OperationDecrypt, snap, tt.doc)
			require.Error(t, err)

			var te *domain.TransformError
			require.True(t, errors.As(err, &te))
			assert.True(t, errors.Is(err, domain.ErrFieldNotDecryptable))
			assert.NotEmpty(t, te.Field)
			assert.NotEmpty(t, te.Error())
		})
	}
}

func TestTransformDocumentErrors(t *testing.T) {
	engine := New(nil)
	snap := testSnapshot(t, testFields)
	ctx := context.Background()

	for _, op := range domain.Operations() {
		t.Run(op.String(), func(t *testing.T) {
			_, err := engine.Transform(ctx, op, snap, `{"unterminated":`)
			assert.True(t, errors.Is(err, domain.ErrInvalidDocument))

			_, err = engine.Transform(ctx, op, snap, `["not","an","object"]`)
			assert.True(t, errors.Is(err, domain.ErrInvalidDocument))
			assert.Contains(t, err.Error(), "array")

			_, err = engine.Transform(ctx, op, nil, `{}`)
			assert.True(t, errors.Is(err, domain.ErrNoConfiguration))
			assert.Equal(t, "no encryption configuration loaded", err.Error())
		})
	}
}

func TestTransformHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil).Transform(ctx, domain.OperationEncrypt, testSnapshot(t, testFields), `{}`)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnknownOperation(t *testing.T) {
	_, err := New(nil).Transform(context.Background(), domain.Operation(99), testSnapshot(t, testFields), `{}`)
	require.Error(t, err)

	var te *domain.TransformError
	assert.False(t, errors.As(err, &te))
}

func TestFieldsOutsideConfigurationAreUntouched(t *testing.T) {
	engine := New(nil)
	snap := testSnapshot(t, "  - path: secret\n")

	out, err := engine.Transform(context.Background(), domain.OperationEncrypt, snap, `{"b":2,"a":{"x":true}}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":true},"b":2}`, out)
}

func TestEncryptDecryptProperty(t *testing.T) {
	engine := New(nil)
	snap := testSnapshot(t, testFields)
	ctx := context.Background()

	rapid.Check(t, func(t *rapid.T) {
		ssn := rapid.String().Draw(t, "ssn")
		notes := rapid.SliceOf(rapid.String()).Draw(t, "notes")

		doc := map[string]any{"ssn": ssn, "patient": map[string]any{"notes": toAny(notes)}}
		input, err := json.MarshalToString(doc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		encrypted, err := engine.Transform(ctx, domain.OperationEncrypt, snap, input)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		decrypted, err := engine.Transform(ctx, domain.OperationDecrypt, snap, encrypted)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if decrypted != input {
			t.Fatalf("round trip mismatch:\n in: %s\nout: %s", input, decrypted)
		}
	})
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
