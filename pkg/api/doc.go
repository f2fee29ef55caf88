// Package api implements the gateway's three operations and their HTTP
// binding.
//
// Every operation has exactly two response variants. A success carries the
// transformed document with status 200. A failure carries an ErrorResponse
// with a status fixed per operation: 503 for encrypt, 403 for decrypt and
// query. Clients must inspect the body shape, not only the status, to tell a
// domain failure from other errors.
package api
