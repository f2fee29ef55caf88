// Package transform implements the field-level encryption engine behind the
// gateway's encrypt, decrypt and query operations.
//
// Configured fields are addressed by dotted paths. Arrays found along a path,
// and at its end, are traversed element-wise. Protected values are encoded as
// strings:
//
//	ENC1:r:<base64(nonce || AES-256-GCM ciphertext)>  randomized
//	ENC1:d:<base64(nonce || AES-256-GCM ciphertext)>  deterministic
//	HMAC1:<base64(HMAC-SHA256)>                        hash
//
// The plaintext is the JSON encoding of the original value and the field path
// is bound as additional authenticated data, so a ciphertext copied to another
// field fails to decrypt.
package transform
