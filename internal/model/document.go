package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Reserved document fields.
const (
	FieldID      = "_id"
	FieldRev     = "_rev"
	FieldDeleted = "_deleted"
	FieldType    = "type"
	FieldErrors  = "errors"
	FieldName    = "name"
	FieldPhone   = "phone"
	FieldParent  = "parent"
)

// SettingsDocID is the id of the document holding the engine settings.
const SettingsDocID = "settings"

// Replace entry statuses under user_for_contact.replace.
const (
	ReplaceStatusPending  = "PENDING"
	ReplaceStatusReady    = "READY"
	ReplaceStatusComplete = "COMPLETE"
)

// Document is a schemaless JSON document from the document store.
//
// Numbers are kept as json.Number so that round-tripping a document through
// the engine never changes its representation.
type Document map[string]any

// DocError is a validation error recorded on a source document.
type DocError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReplaceEntry is one user_for_contact.replace entry, keyed by the username
// of the account being replaced.
type ReplaceEntry struct {
	Username             string
	ReplacementContactID string
	Status               string
}

// DecodeDocument parses a JSON object into a Document.
func DecodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode document: not a JSON object")
	}
	return doc, nil
}

// Encode serializes the document as JSON.
func (d Document) Encode() ([]byte, error) {
	return json.Marshal(map[string]any(d))
}

// ID returns the document id.
func (d Document) ID() string { return d.String(FieldID) }

// Rev returns the current revision, empty for unsaved documents.
func (d Document) Rev() string { return d.String(FieldRev) }

// Type returns the document type field.
func (d Document) Type() string { return d.String(FieldType) }

// Deleted reports whether the document is a deletion tombstone.
func (d Document) Deleted() bool {
	v, _ := d[FieldDeleted].(bool)
	return v
}

// String returns a top-level string field, or "" if absent or not a string.
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// ParentID returns parent._id, used to resolve a contact's place.
func (d Document) ParentID() string {
	parent, ok := d[FieldParent].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := parent[FieldID].(string)
	return id
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(val)).(map[string]any))
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return val
	}
}

// Errors returns the errors recorded on the document.
func (d Document) Errors() []DocError {
	raw, ok := d[FieldErrors].([]any)
	if !ok {
		return nil
	}

	errs := make([]DocError, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		code, _ := m["code"].(string)
		msg, _ := m["message"].(string)
		errs = append(errs, DocError{Code: code, Message: msg})
	}
	return errs
}

// AddError appends err to the document's errors unless an identical error
// is already recorded. Returns true if the document changed.
func (d Document) AddError(err DocError) bool {
	for _, existing := range d.Errors() {
		if existing == err {
			return false
		}
	}

	raw, _ := d[FieldErrors].([]any)
	d[FieldErrors] = append(raw, map[string]any{
		"code":    err.Code,
		"message": err.Message,
	})
	return true
}

// replaceMap returns user_for_contact.replace, or nil.
func (d Document) replaceMap() map[string]any {
	ufc, ok := d["user_for_contact"].(map[string]any)
	if !ok {
		return nil
	}
	replace, _ := ufc["replace"].(map[string]any)
	return replace
}

// ReplaceEntries returns the user_for_contact.replace entries sorted by
// username. Malformed entries are returned with empty fields so callers can
// report them.
func (d Document) ReplaceEntries() []ReplaceEntry {
	replace := d.replaceMap()
	if len(replace) == 0 {
		return nil
	}

	entries := make([]ReplaceEntry, 0, len(replace))
	for username, raw := range replace {
		entry := ReplaceEntry{Username: username}
		if m, ok := raw.(map[string]any); ok {
			entry.ReplacementContactID, _ = m["replacement_contact_id"].(string)
			entry.Status, _ = m["status"].(string)
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Username < entries[j].Username
	})
	return entries
}

// SetReplaceStatus updates the status of the entry for username.
// Returns false if no such entry exists.
func (d Document) SetReplaceStatus(username, status string) bool {
	replace := d.replaceMap()
	raw, ok := replace[username].(map[string]any)
	if !ok {
		return false
	}
	if raw["status"] == status {
		return false
	}
	raw["status"] = status
	return true
}
