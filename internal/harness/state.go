package harness

import (
	"context"
	"errors"
	"regexp"

	"github.com/roach88/sentinel/internal/accounts"
	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
)

// tokenPattern matches the signed token at the end of a login link.
var tokenPattern = regexp.MustCompile(regexp.QuoteMeta(accounts.LoginPath) + `[A-Za-z0-9._-]+`)

// redactedToken replaces login tokens in collected state. Tokens carry a
// random id so they never compare equal across runs.
const redactedToken = accounts.LoginPath + "<token>"

// collectState reads every state table into plain records.
func (h *Harness) collectState(ctx context.Context) (State, error) {
	state := State{
		TableAccounts: {},
		TableMessages: {},
		TableDocs:     {},
		TableInfo:     {},
		TableRuns:     {},
	}

	accts, err := h.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range accts {
		state[TableAccounts] = append(state[TableAccounts], accountRecord(a))
	}

	msgs, err := h.store.ListMessages(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		state[TableMessages] = append(state[TableMessages], messageRecords(m)...)
	}

	for _, id := range h.docIDs {
		doc, err := h.store.GetDoc(ctx, id)
		switch {
		case err == nil:
			state[TableDocs] = append(state[TableDocs], docRecord(doc))
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}

		info, err := h.store.GetInfo(ctx, id)
		switch {
		case err == nil:
			state[TableInfo] = append(state[TableInfo], infoRecord(info))
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}

		runs, err := h.store.ListRuns(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			state[TableRuns] = append(state[TableRuns], runRecord(run))
		}
	}
	return state, nil
}

func accountRecord(a model.Account) map[string]any {
	roles := make([]any, len(a.Roles))
	for i, r := range a.Roles {
		roles[i] = r
	}
	return map[string]any{
		"name":         a.Username,
		"contact_id":   a.ContactID,
		"facility_id":  a.FacilityID,
		"roles":        roles,
		"phone":        a.Phone,
		"fullname":     a.FullName,
		"has_password": a.PasswordHash != "",
		"token_login":  a.TokenLogin != nil && a.TokenLogin.Active,
	}
}

// messageRecords flattens a message into one record per SMS.
func messageRecords(m model.Message) []map[string]any {
	var records []map[string]any
	for _, task := range m.Tasks {
		for _, tm := range task.Messages {
			records = append(records, map[string]any{
				"id":    m.ID,
				"type":  m.Type,
				"user":  m.User,
				"state": task.State,
				"to":    tm.To,
				"body":  tokenPattern.ReplaceAllString(tm.Body, redactedToken),
			})
		}
	}
	return records
}

func docRecord(doc model.Document) map[string]any {
	rec := map[string]any(doc.Clone())
	delete(rec, model.FieldRev)
	return rec
}

func infoRecord(info *model.InfoDoc) map[string]any {
	transitions := make(map[string]any, len(info.Transitions))
	for name, o := range info.Transitions {
		entries := make(map[string]any, len(o.Entries))
		for username, e := range o.Entries {
			entry := map[string]any{"ok": e.OK}
			if e.Code != "" {
				entry["code"] = e.Code
			}
			if e.NewUsername != "" {
				entry["new_username"] = e.NewUsername
			}
			entries[username] = entry
		}
		transitions[name] = map[string]any{
			"ok":      o.OK,
			"seq":     o.Seq,
			"run_id":  o.RunID,
			"entries": entries,
		}
	}
	return map[string]any{
		"doc_id":      info.DocID,
		"transitions": transitions,
	}
}

func runRecord(run model.TransitionRun) map[string]any {
	errs := make([]any, len(run.Errors))
	for i, e := range run.Errors {
		errs[i] = map[string]any{"code": e.Code, "message": e.Message}
	}
	return map[string]any{
		"run_id":     run.RunID,
		"doc_id":     run.DocID,
		"transition": run.Transition,
		"seq":        run.Seq,
		"ok":         run.OK,
		"errors":     errs,
	}
}
