// Package store implements the normalized record cache.
//
// Responses are flattened into records keyed by identity. An object carrying
// an "id" field is stored under that id; any other object is stored under a
// path derived from its parent record and storage key, so the same entity
// reached through different queries is kept once.
//
// Field values inside a record are one of:
//   - a JSON scalar, or a JSON object/list for fields without a selection set
//   - Ref, the identity of another record in the same store
//   - []any whose elements are Ref, nil, or nested []any (lists of objects)
//
// Writes merge per field: fields missing from a payload never clear values
// already stored. Applying the same payload twice leaves the store unchanged.
package store
