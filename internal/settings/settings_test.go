package settings

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sentinel/internal/model"
)

func TestLoadFile_YAML(t *testing.T) {
	s, err := LoadFile(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)

	assert.True(t, s.Enabled("create_user_for_contacts"))
	assert.False(t, s.Enabled("update_clinics"))
	assert.False(t, s.Enabled("unknown"))
	assert.Equal(t, []string{"create_user_for_contacts"}, s.EnabledTransitions())
	assert.True(t, s.TokenLogin.Enabled)
	assert.Equal(t, 48*time.Hour, s.TokenTTL())
	assert.Equal(t, "http://localhost:5988", s.AppURL)
	assert.Equal(t, 254, s.DefaultCountryCode)
}

func TestLoadFile_JSON(t *testing.T) {
	s, err := LoadFile(filepath.Join("testdata", "valid.json"))
	require.NoError(t, err)

	assert.True(t, s.Enabled("create_user_for_contacts"))
	assert.Zero(t, s.TokenTTL())
}

func TestLoadFile_SchemaViolations(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "invalid.yaml"))
	require.Error(t, err)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.NotEmpty(t, schemaErr.Errors)

	found := false
	for _, ve := range schemaErr.Errors {
		assert.Equal(t, ErrCodeSchema, ve.Code)
		if strings.HasSuffix(ve.Field, "transitions.create_user_for_contacts") {
			found = true
		}
	}
	assert.True(t, found, "expected an error on transitions.create_user_for_contacts, got %v", schemaErr.Errors)
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "settings.toml"))
	assert.Error(t, err)
}

func TestParse_InvalidTTL(t *testing.T) {
	_, err := Parse([]byte(`{"token_login": {"enabled": true, "ttl": "soon"}}`))

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "token_login.ttl", schemaErr.Errors[0].Field)
	assert.Equal(t, ErrCodeInvalidValue, schemaErr.Errors[0].Code)
}

func TestParse_CountryCodeRange(t *testing.T) {
	_, err := Parse([]byte(`{"default_country_code": 0}`))
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"transitions": `))

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, ErrCodeParse, schemaErr.Errors[0].Code)
}

func TestParseYAML_Empty(t *testing.T) {
	s, err := ParseYAML([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, s.EnabledTransitions())
}

func TestDocumentRoundTrip(t *testing.T) {
	s, err := LoadFile(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)

	doc, err := s.Document()
	require.NoError(t, err)
	assert.Equal(t, model.SettingsDocID, doc.ID())

	doc["_rev"] = "3-abc"
	back, err := FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestNilSettings(t *testing.T) {
	var s *Settings
	assert.False(t, s.Enabled("create_user_for_contacts"))
	assert.Nil(t, s.EnabledTransitions())
	assert.Zero(t, s.TokenTTL())
}
