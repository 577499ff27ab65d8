// Package replaceuser implements the create_user_for_contacts transition.
//
// When a person document marks one of its accounts for replacement
// (user_for_contact.replace.<username>.status == READY), the transition
// creates a new account for the replacement contact, sends it a token
// login link by SMS and locks the old account out. Each entry is handled
// independently; progress is saved after every side effect so an
// interrupted entry resumes where it stopped.
package replaceuser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sentinel/internal/accounts"
	"github.com/roach88/sentinel/internal/messages"
	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/settings"
	"github.com/roach88/sentinel/internal/store"
	"github.com/roach88/sentinel/internal/transition"
)

// Name is the transition name used in settings.
const Name = "create_user_for_contacts"

// MaxUsernameAttempts bounds username generation per entry.
const MaxUsernameAttempts = 10

// Error codes recorded on the source document.
const (
	CodeNoReplacementID          = "NO_REPLACEMENT_ID"
	CodeReplacementNotFound      = "REPLACEMENT_NOT_FOUND"
	CodeMissingName              = "MISSING_NAME"
	CodeMissingPhone             = "MISSING_PHONE"
	CodeInvalidPhone             = "INVALID_PHONE"
	CodeUserNotFound             = "USER_NOT_FOUND"
	CodeUserNotLinked            = "USER_NOT_LINKED"
	CodeUsernameGenerationFailed = "USERNAME_GENERATION_FAILED"
)

// Documents reads contacts from the document store.
type Documents interface {
	GetDoc(ctx context.Context, id string) (model.Document, error)
}

// Accounts is the account service surface the transition uses.
type Accounts interface {
	GetByUsername(ctx context.Context, username string) (model.Account, error)
	Exists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, spec accounts.AccountSpec) (model.Account, error)
	ResetCredential(ctx context.Context, username string) error
	EnableTokenLogin(ctx context.Context, username, appURL string, ttl time.Duration) (model.TokenPayload, error)
}

// Queue enqueues outbound messages.
type Queue interface {
	Enqueue(ctx context.Context, m model.Message) (model.Message, error)
}

// ProgressStore persists per-entry saga progress.
type ProgressStore interface {
	GetProgress(ctx context.Context, key store.ReplacementKey) (store.ReplacementProgress, error)
	SaveProgress(ctx context.Context, p store.ReplacementProgress) error
}

// Transition is the create_user_for_contacts transition.
type Transition struct {
	docs     Documents
	accounts Accounts
	queue    Queue
	progress ProgressStore
	suffix   func() int
	now      func() time.Time
}

// Option configures a Transition.
type Option func(*Transition)

// WithSuffixFunc sets the source of username suffixes. f must return values
// in [1000, 9999].
func WithSuffixFunc(f func() int) Option {
	return func(t *Transition) {
		t.suffix = f
	}
}

// WithNow sets the wall clock used for progress timestamps.
func WithNow(now func() time.Time) Option {
	return func(t *Transition) {
		t.now = now
	}
}

// New creates the transition.
func New(docs Documents, accts Accounts, queue Queue, progress ProgressStore, opts ...Option) *Transition {
	t := &Transition{
		docs:     docs,
		accounts: accts,
		queue:    queue,
		progress: progress,
		suffix:   func() int { return 1000 + rand.Intn(9000) },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements transition.Transition.
func (t *Transition) Name() string { return Name }

// Preconditions implements transition.Transition.
func (t *Transition) Preconditions() []transition.Precondition {
	return []transition.Precondition{
		{
			Message: "Token login must be enabled to use the create_user_for_contacts transition.",
			Check:   func(s *settings.Settings) bool { return s.TokenLogin.Enabled },
		},
		{
			Message: "The app_url must be defined to use the create_user_for_contacts transition.",
			Check:   func(s *settings.Settings) bool { return strings.TrimSpace(s.AppURL) != "" },
		},
	}
}

// Filter accepts person documents with at least one READY replace entry.
func (t *Transition) Filter(doc model.Document, _ *model.InfoDoc) bool {
	if doc.Type() != "person" {
		return false
	}
	for _, e := range doc.ReplaceEntries() {
		if e.Status == model.ReplaceStatusReady {
			return true
		}
	}
	return false
}

// OnMatch processes every READY entry in username order. Validation
// failures of one entry are reported and do not affect the others;
// infrastructure errors abort the run.
func (t *Transition) OnMatch(ctx context.Context, change *transition.Change) (transition.Result, error) {
	res := transition.Result{Entries: make(map[string]model.EntryOutcome)}
	docID := change.Doc.ID()

	for _, entry := range change.Doc.ReplaceEntries() {
		if entry.Status != model.ReplaceStatusReady {
			continue
		}

		newUsername, err := t.replace(ctx, change, entry)
		if de, ok := transition.AsDomainError(err); ok {
			slog.Warn("user replacement rejected",
				"doc_id", docID,
				"username", entry.Username,
				"code", de.Code,
				"error", de.Message,
			)
			res.Errors = append(res.Errors, de.DocError())
			res.Entries[entry.Username] = model.EntryOutcome{OK: false, Code: de.Code}
			continue
		}
		if err != nil {
			return res, fmt.Errorf("replace user %s on %s: %w", entry.Username, docID, err)
		}

		if change.Doc.SetReplaceStatus(entry.Username, model.ReplaceStatusComplete) {
			res.Changed = true
		}
		res.Entries[entry.Username] = model.EntryOutcome{OK: true, NewUsername: newUsername}

		slog.Info("user replaced",
			"doc_id", docID,
			"old_username", entry.Username,
			"new_username", newUsername,
			"replacement_contact_id", entry.ReplacementContactID,
		)
	}

	return res, nil
}

// replace runs the steps for one entry and returns the new username.
func (t *Transition) replace(ctx context.Context, change *transition.Change, entry model.ReplaceEntry) (string, error) {
	if entry.ReplacementContactID == "" {
		return "", transition.NewDomainError(CodeNoReplacementID,
			"No id was provided for the new replacement contact.")
	}

	p, err := t.progress.GetProgress(ctx, store.ReplacementKey{
		DocID:                change.Doc.ID(),
		OldUsername:          entry.Username,
		ReplacementContactID: entry.ReplacementContactID,
	})
	if err != nil {
		return "", err
	}
	if p.AccountCreated && p.MessageQueued && p.CredentialReset {
		return p.NewUsername, nil
	}

	contact, err := t.loadReplacement(ctx, entry.ReplacementContactID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(contact.String(model.FieldName))
	if name == "" {
		return "", transition.NewDomainError(CodeMissingName,
			"Replacement contact [%s] must have a name.", entry.ReplacementContactID)
	}
	rawPhone, hasPhone := contact[model.FieldPhone]
	if !hasPhone || rawPhone == nil || rawPhone == "" {
		return "", transition.NewDomainError(CodeMissingPhone, "Missing required fields: phone")
	}
	phone, ok := normalizePhone(rawPhone, change.Settings.DefaultCountryCode)
	if !ok {
		return "", transition.NewDomainError(CodeInvalidPhone, "A valid phone number is required for SMS login.")
	}

	old, err := t.accounts.GetByUsername(ctx, entry.Username)
	if errors.Is(err, store.ErrNotFound) {
		return "", transition.NewDomainError(CodeUserNotFound,
			"Failed to find user with name [%s] in the [users] database.", entry.Username)
	}
	if err != nil {
		return "", err
	}
	if old.ContactID != change.Doc.ID() {
		return "", transition.NewDomainError(CodeUserNotLinked,
			"User [%s] is not linked to contact [%s].", entry.Username, change.Doc.ID())
	}

	if !p.AccountCreated {
		facility := contact.ParentID()
		if facility == "" {
			facility = old.FacilityID
		}
		spec := accounts.AccountSpec{
			ContactID:  contact.ID(),
			FacilityID: facility,
			Roles:      old.Roles,
			Phone:      phone,
			FullName:   name,
			TokenLogin: true,
		}
		if err := t.createAccount(ctx, &p, spec); err != nil {
			return "", err
		}
	}

	if !p.MessageQueued {
		payload, err := t.accounts.EnableTokenLogin(ctx, p.NewUsername, change.Settings.AppURL, change.Settings.TokenTTL())
		if err != nil {
			return "", err
		}
		msg := messages.TokenLogin(model.UserIDPrefix+p.NewUsername, phone, change.Settings.TokenLogin.Message, payload.URL)
		msg.ID = loginMessageID(p)
		if _, err := t.queue.Enqueue(ctx, msg); err != nil {
			return "", err
		}
		p.MessageQueued = true
		if err := t.save(ctx, &p); err != nil {
			return "", err
		}
	}

	if !p.CredentialReset {
		if err := t.accounts.ResetCredential(ctx, old.Username); err != nil {
			return "", err
		}
		p.CredentialReset = true
		if err := t.save(ctx, &p); err != nil {
			return "", err
		}
	}

	return p.NewUsername, nil
}

// loginMessageID names the login message of one entry's new account. A
// resumed entry re-enqueues under the same id, replacing the earlier
// message and its now superseded link.
func loginMessageID(p store.ReplacementProgress) string {
	key := strings.Join([]string{p.DocID, p.OldUsername, p.ReplacementContactID, p.NewUsername}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (t *Transition) loadReplacement(ctx context.Context, id string) (model.Document, error) {
	contact, err := t.docs.GetDoc(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && contact.Type() != "person") {
		return nil, transition.NewDomainError(CodeReplacementNotFound, "Failed to find person [%s].", id)
	}
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// createAccount picks a free username and creates the replacement account,
// recording the choice before the insert so an interrupted run finds the
// account again instead of creating a second one.
func (t *Transition) createAccount(ctx context.Context, p *store.ReplacementProgress, spec accounts.AccountSpec) error {
	if p.NewUsername != "" {
		existing, err := t.accounts.GetByUsername(ctx, p.NewUsername)
		switch {
		case err == nil && existing.ContactID == spec.ContactID:
			p.AccountCreated = true
			return t.save(ctx, p)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	for attempt := 1; attempt <= MaxUsernameAttempts; attempt++ {
		username := candidateUsername(spec.FullName, t.suffix())

		taken, err := t.accounts.Exists(ctx, username)
		if err != nil {
			return err
		}
		if taken {
			slog.Debug("username taken", "username", username, "attempt", attempt)
			continue
		}

		p.NewUsername = username
		if err := t.save(ctx, p); err != nil {
			return err
		}

		spec.Username = username
		_, err = t.accounts.Create(ctx, spec)
		if errors.Is(err, accounts.ErrUsernameTaken) {
			slog.Debug("username claimed concurrently", "username", username, "attempt", attempt)
			continue
		}
		if err != nil {
			return err
		}

		p.AccountCreated = true
		return t.save(ctx, p)
	}

	return transition.NewDomainError(CodeUsernameGenerationFailed,
		"Failed to generate a unique username for [%s] after %d attempts.", spec.FullName, MaxUsernameAttempts)
}

func (t *Transition) save(ctx context.Context, p *store.ReplacementProgress) error {
	p.UpdatedAt = t.now()
	return t.progress.SaveProgress(ctx, *p)
}
