package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Domain prefixes for content-derived identity.
// Version suffix enables future algorithm migration.
const (
	DomainChange   = "sentinel/change/v1"
	DomainRevision = "sentinel/rev/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// engineOwnedFields never contribute to a document's logical identity.
var engineOwnedFields = []string{FieldRev, FieldErrors}

// ChangeHash identifies the logical content of a document.
//
// Two revisions that differ only in engine-owned fields hash identically,
// so the engine's own error writes never count as a new change.
func ChangeHash(doc Document) (string, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		body[k] = v
	}
	for _, f := range engineOwnedFields {
		delete(body, f)
	}

	canonical, err := MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("ChangeHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainChange, canonical), nil
}

// NextRev computes the revision that follows prev for the given body.
// Revisions have the form "<generation>-<digest>".
func NextRev(prev string, doc Document) (string, error) {
	gen := RevGeneration(prev) + 1

	body := make(map[string]any, len(doc))
	for k, v := range doc {
		body[k] = v
	}
	delete(body, FieldRev)

	canonical, err := MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("NextRev: failed to marshal: %w", err)
	}
	digest := hashWithDomain(DomainRevision, canonical)
	return fmt.Sprintf("%d-%s", gen, digest[:32]), nil
}

// RevGeneration returns the generation number of rev, 0 if rev is empty or
// malformed.
func RevGeneration(rev string) int {
	head, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}
