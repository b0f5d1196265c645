// Package codec is the CBOR encoding used for blobs stored in the
// bridge database (device snapshots, mapping results, error counters).
//
// Encoding is deterministic (RFC 8949 §4.2): the same value always yields
// the same bytes, so an unchanged snapshot can be detected by comparing
// blobs. Structs may use cbor or json tags; fxamacker/cbor falls back to
// json tags when no cbor tag is present.
package codec
