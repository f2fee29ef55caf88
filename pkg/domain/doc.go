// Package domain defines the core types shared by the enigma gateway.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Operation kinds, transformation outcomes and the error model
// live here so that the request handler, the transformation engine and the transport
// layer agree on one vocabulary without importing each other.
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
