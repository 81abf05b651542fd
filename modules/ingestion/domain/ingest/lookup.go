package ingest

import "github.com/iota-uz/policyhub/modules/ingestion/domain/records"

// Lookup is the immutable identity snapshot built once per run.
type Lookup struct {
	refs     map[records.Kind]map[string]records.ID
	subjects map[records.SubjectKey]records.ID
}

// NewLookup builds the tables from ID-ascending reads. When a key repeats, the
// lowest ID wins.
func NewLookup(refs map[records.Kind][]records.StoredReference, subjects []records.StoredSubject) *Lookup {
	l := &Lookup{
		refs:     make(map[records.Kind]map[string]records.ID, len(refs)),
		subjects: make(map[records.SubjectKey]records.ID, len(subjects)),
	}
	for kind, stored := range refs {
		table := make(map[string]records.ID, len(stored))
		for _, r := range stored {
			if cur, ok := table[r.Key]; !ok || r.ID < cur {
				table[r.Key] = r.ID
			}
		}
		l.refs[kind] = table
	}
	for _, s := range subjects {
		if cur, ok := l.subjects[s.Key]; !ok || s.ID < cur {
			l.subjects[s.Key] = s.ID
		}
	}
	return l
}

func (l *Lookup) Reference(kind records.Kind, key string) (records.ID, bool) {
	if key == "" {
		return 0, false
	}
	id, ok := l.refs[kind][key]
	return id, ok
}

func (l *Lookup) Subject(key records.SubjectKey) (records.ID, bool) {
	if key.IsZero() {
		return 0, false
	}
	id, ok := l.subjects[key]
	return id, ok
}

// Len reports how many distinct keys are known for kind.
func (l *Lookup) Len(kind records.Kind) int {
	return len(l.refs[kind])
}

func (l *Lookup) SubjectCount() int {
	return len(l.subjects)
}

// Resolution holds the foreign keys of one row. Optional references are nil
// when the row was blank for that kind or the key is not stored.
type Resolution struct {
	SubjectID records.ID
	AgentID   *records.ID
	AccountID *records.ID
	LOBID     *records.ID
	CarrierID *records.ID
}

// Resolve reports false when the row's subject cannot be found.
func (l *Lookup) Resolve(row Normalized) (Resolution, bool) {
	if row.Subject == nil {
		return Resolution{}, false
	}
	subjectID, ok := l.Subject(row.SubjectKey())
	if !ok {
		return Resolution{}, false
	}
	res := Resolution{SubjectID: subjectID}
	if row.Agent != nil {
		res.AgentID = l.optional(records.KindAgent, row.Agent.NaturalKey())
	}
	if row.Account != nil {
		res.AccountID = l.optional(records.KindAccount, row.Account.NaturalKey())
	}
	if row.LOB != nil {
		res.LOBID = l.optional(records.KindLOB, row.LOB.NaturalKey())
	}
	if row.Carrier != nil {
		res.CarrierID = l.optional(records.KindCarrier, row.Carrier.NaturalKey())
	}
	return res, true
}

func (l *Lookup) optional(kind records.Kind, key string) *records.ID {
	id, ok := l.Reference(kind, key)
	if !ok {
		return nil
	}
	return &id
}
