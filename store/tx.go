package store

// Tx stages mutations against a loaded account snapshot. Backends read the
// staged changes through Inserted, Updated, Deleted and Credential once the
// WithinAccount callback has returned.
type Tx struct {
	working    *Snapshot
	inserted   map[string]struct{}
	updated    map[string]struct{}
	deleted    map[string]struct{}
	credential bool
}

// NewTx starts staging against a copy of snapshot.
func NewTx(snapshot *Snapshot) *Tx {
	return &Tx{
		working:  snapshot.Clone(),
		inserted: map[string]struct{}{},
		updated:  map[string]struct{}{},
		deleted:  map[string]struct{}{},
	}
}

// Snapshot returns the working view including staged changes. Callers must
// not mutate it directly.
func (t *Tx) Snapshot() *Snapshot {
	return t.working
}

// InsertEmail stages a new address. Returns ErrEmailTaken when the account
// already holds it. Cross-account ownership is checked at commit.
func (t *Tx) InsertEmail(e Email) error {
	if _, ok := t.working.Find(e.Normalized); ok {
		return ErrEmailTaken
	}
	e.AccountID = t.working.Account.ID
	t.working.Emails = append(t.working.Emails, e)
	if _, wasDeleted := t.deleted[e.Normalized]; wasDeleted {
		delete(t.deleted, e.Normalized)
		t.updated[e.Normalized] = struct{}{}
		return nil
	}
	t.inserted[e.Normalized] = struct{}{}
	return nil
}

// UpdateEmail stages new flags for an existing address.
func (t *Tx) UpdateEmail(e Email) error {
	for i := range t.working.Emails {
		if t.working.Emails[i].Normalized == e.Normalized {
			e.AccountID = t.working.Account.ID
			t.working.Emails[i] = e
			if _, ok := t.inserted[e.Normalized]; !ok {
				t.updated[e.Normalized] = struct{}{}
			}
			return nil
		}
	}
	return ErrNotFound
}

// DeleteEmail stages removal of an address.
func (t *Tx) DeleteEmail(normalized string) error {
	for i := range t.working.Emails {
		if t.working.Emails[i].Normalized != normalized {
			continue
		}
		t.working.Emails = append(t.working.Emails[:i], t.working.Emails[i+1:]...)
		delete(t.updated, normalized)
		if _, ok := t.inserted[normalized]; ok {
			delete(t.inserted, normalized)
			return nil
		}
		t.deleted[normalized] = struct{}{}
		return nil
	}
	return ErrNotFound
}

// ReplaceCredential stages a new credential.
func (t *Tx) ReplaceCredential(c Credential) {
	c.AccountID = t.working.Account.ID
	t.working.Credential = c
	t.credential = true
}

// Dirty reports whether anything was staged.
func (t *Tx) Dirty() bool {
	return len(t.inserted) > 0 || len(t.updated) > 0 || len(t.deleted) > 0 || t.credential
}

// Inserted returns the staged new emails.
func (t *Tx) Inserted() []Email {
	return t.collect(t.inserted)
}

// Updated returns the staged changed emails.
func (t *Tx) Updated() []Email {
	return t.collect(t.updated)
}

// Deleted returns the normalized addresses staged for removal.
func (t *Tx) Deleted() []string {
	out := make([]string, 0, len(t.deleted))
	for n := range t.deleted {
		out = append(out, n)
	}
	return out
}

// Credential returns the staged credential, if any.
func (t *Tx) Credential() (Credential, bool) {
	return t.working.Credential, t.credential
}

func (t *Tx) collect(set map[string]struct{}) []Email {
	out := make([]Email, 0, len(set))
	for _, e := range t.working.Emails {
		if _, ok := set[e.Normalized]; ok {
			out = append(out, e)
		}
	}
	return out
}
