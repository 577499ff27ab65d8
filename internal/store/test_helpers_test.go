package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/sentinel/internal/model"
)

// testNow is the fixed wall time used by store tests.
var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestPerson returns an unsaved person document.
func createTestPerson(id, name string) model.Document {
	return model.Document{
		"_id":  id,
		"type": "person",
		"name": name,
	}
}

// createTestAccount returns an account linked to contactID.
func createTestAccount(username, contactID string) model.Account {
	return model.Account{
		Username:   username,
		ContactID:  contactID,
		FacilityID: "clinic-1",
		Roles:      []string{"chw"},
		Phone:      "+254712345678",
		FullName:   username,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
}
