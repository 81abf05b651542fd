package ingest

import "github.com/iota-uz/policyhub/modules/ingestion/domain/records"

// RefSet maps natural keys to the first-seen reference. Iteration follows the
// order in which keys were first seen.
type RefSet struct {
	kind  records.Kind
	keys  []string
	index map[string]records.Reference
}

func NewRefSet(kind records.Kind) *RefSet {
	return &RefSet{kind: kind, index: make(map[string]records.Reference)}
}

func (s *RefSet) Kind() records.Kind { return s.kind }

// Add keeps the first reference seen for a key and reports whether ref was new.
func (s *RefSet) Add(ref records.Reference) bool {
	key := ref.NaturalKey()
	if key == "" {
		return false
	}
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = ref
	s.keys = append(s.keys, key)
	return true
}

func (s *RefSet) Get(key string) (records.Reference, bool) {
	ref, ok := s.index[key]
	return ref, ok
}

func (s *RefSet) Len() int { return len(s.keys) }

func (s *RefSet) Values() []records.Reference {
	out := make([]records.Reference, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.index[k])
	}
	return out
}

// Extraction is the deduplicated output of one run's rows.
type Extraction struct {
	References map[records.Kind]*RefSet
	Subjects   []records.Subject
}

// Refs returns the set for kind, never nil.
func (e Extraction) Refs(kind records.Kind) *RefSet {
	if s, ok := e.References[kind]; ok {
		return s
	}
	return NewRefSet(kind)
}

// Deduplicate collapses rows into unique-key sets per reference kind and a
// subject candidate list unique by composite key. First occurrence wins.
func Deduplicate(rows []Normalized) Extraction {
	ex := Extraction{References: make(map[records.Kind]*RefSet, len(records.Kinds))}
	for _, kind := range records.Kinds {
		ex.References[kind] = NewRefSet(kind)
	}

	seen := make(map[records.SubjectKey]struct{})
	for _, row := range rows {
		if row.Agent != nil {
			ex.References[records.KindAgent].Add(*row.Agent)
		}
		if row.Account != nil {
			ex.References[records.KindAccount].Add(*row.Account)
		}
		if row.LOB != nil {
			ex.References[records.KindLOB].Add(*row.LOB)
		}
		if row.Carrier != nil {
			ex.References[records.KindCarrier].Add(*row.Carrier)
		}
		if row.Subject != nil {
			key := row.Subject.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			ex.Subjects = append(ex.Subjects, *row.Subject)
		}
	}
	return ex
}
