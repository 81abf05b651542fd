package persistence

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

var (
	ErrBlankPolicyNumber = errors.New("policy number is blank")
	ErrUnknownSubject    = errors.New("subject does not exist")
	ErrUnknownReference  = errors.New("referenced entity does not exist")
	ErrBlankFirstName    = errors.New("subject first name is blank")
)

type memReference struct {
	stored records.StoredReference
	ref    records.Reference
}

type memSubject struct {
	id        records.ID
	subject   records.Subject
	createdAt time.Time
}

type memPolicy struct {
	id     records.ID
	policy records.Policy
}

// MemoryStore keeps everything in process. It enforces the same uniqueness and
// referential rules as the PostgreSQL schema, and also serves the read side.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextID   records.ID
	refs     map[records.Kind][]memReference
	refIndex map[records.Kind]map[string]records.ID
	subjects []memSubject
	policies []memPolicy
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		refs:     make(map[records.Kind][]memReference),
		refIndex: make(map[records.Kind]map[string]records.ID),
	}
}

func (s *MemoryStore) id() records.ID {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ping: %w: %w", records.ErrUnavailable, err)
	}
	return nil
}

func (s *MemoryStore) UpsertIfAbsent(ctx context.Context, kind records.Kind, refs []records.Reference) (int, error) {
	if _, ok := refTables[kind]; !ok {
		return 0, fmt.Errorf("upsert: unknown reference kind %q", kind)
	}
	if err := ctx.Err(); err != nil {
		return 0, classify("upsert "+kind.Plural(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index, ok := s.refIndex[kind]
	if !ok {
		index = make(map[string]records.ID)
		s.refIndex[kind] = index
	}
	inserted := 0
	for _, ref := range refs {
		if ref.Kind() != kind {
			return inserted, fmt.Errorf("upsert %s: got %s reference", kind.Plural(), ref.Kind())
		}
		key := ref.NaturalKey()
		if key == "" {
			continue
		}
		if _, exists := index[key]; exists {
			continue
		}
		id := s.id()
		index[key] = id
		s.refs[kind] = append(s.refs[kind], memReference{
			stored: records.StoredReference{ID: id, Kind: kind, Key: key, CreatedAt: s.now().UTC()},
			ref:    ref,
		})
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) FindReferences(ctx context.Context, kind records.Kind) ([]records.StoredReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("find "+kind.Plural(), err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]records.StoredReference, 0, len(s.refs[kind]))
	for _, r := range s.refs[kind] {
		out = append(out, r.stored)
	}
	return out, nil
}

func (s *MemoryStore) InsertSubjects(ctx context.Context, subjects []records.Subject) (records.BatchResult[records.Subject], error) {
	var result records.BatchResult[records.Subject]
	if err := ctx.Err(); err != nil {
		return result, classify("insert subjects", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subj := range subjects {
		if strings.TrimSpace(subj.FirstName) == "" {
			result.Fail(subj, ErrBlankFirstName)
			continue
		}
		s.subjects = append(s.subjects, memSubject{id: s.id(), subject: subj, createdAt: s.now().UTC()})
		result.Succeeded++
	}
	return result, nil
}

func (s *MemoryStore) FindSubjects(ctx context.Context) ([]records.StoredSubject, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("find subjects", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]records.StoredSubject, 0, len(s.subjects))
	for _, subj := range s.subjects {
		out = append(out, records.StoredSubject{ID: subj.id, Key: subj.subject.Key(), CreatedAt: subj.createdAt})
	}
	return out, nil
}

func (s *MemoryStore) InsertPolicies(ctx context.Context, policies []records.Policy) (records.BatchResult[records.Policy], error) {
	var result records.BatchResult[records.Policy]
	if err := ctx.Err(); err != nil {
		return result, classify("insert policies", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range policies {
		if err := s.checkPolicy(p); err != nil {
			result.Fail(p, err)
			continue
		}
		s.policies = append(s.policies, memPolicy{id: s.id(), policy: p})
		result.Succeeded++
	}
	return result, nil
}

func (s *MemoryStore) checkPolicy(p records.Policy) error {
	if strings.TrimSpace(p.Number) == "" {
		return ErrBlankPolicyNumber
	}
	if _, ok := s.subjectByID(p.SubjectID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubject, p.SubjectID)
	}
	refs := []struct {
		kind records.Kind
		id   *records.ID
	}{
		{records.KindAgent, p.AgentID},
		{records.KindAccount, p.AccountID},
		{records.KindLOB, p.LOBID},
		{records.KindCarrier, p.CarrierID},
	}
	for _, r := range refs {
		if r.id == nil {
			continue
		}
		if _, ok := s.referenceByID(r.kind, *r.id); !ok {
			return fmt.Errorf("%w: %s %d", ErrUnknownReference, r.kind, *r.id)
		}
	}
	return nil
}

func (s *MemoryStore) subjectByID(id records.ID) (memSubject, bool) {
	i, ok := slices.BinarySearchFunc(s.subjects, id, func(m memSubject, id records.ID) int {
		return cmp.Compare(m.id, id)
	})
	if !ok {
		return memSubject{}, false
	}
	return s.subjects[i], true
}

func (s *MemoryStore) referenceByID(kind records.Kind, id records.ID) (memReference, bool) {
	refs := s.refs[kind]
	i, ok := slices.BinarySearchFunc(refs, id, func(m memReference, id records.ID) int {
		return cmp.Compare(m.stored.ID, id)
	})
	if !ok {
		return memReference{}, false
	}
	return refs[i], true
}

func (s *MemoryStore) referenceName(kind records.Kind, id *records.ID) string {
	if id == nil {
		return ""
	}
	ref, ok := s.referenceByID(kind, *id)
	if !ok {
		return ""
	}
	return ref.stored.Key
}

// SearchBySubjectName matches first names case-insensitively by substring.
func (s *MemoryStore) SearchBySubjectName(ctx context.Context, name string, limit int) ([]records.PolicyView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(name))
	out := make([]records.PolicyView, 0)
	for _, mp := range s.policies {
		if limit > 0 && len(out) >= limit {
			break
		}
		subj, ok := s.subjectByID(mp.policy.SubjectID)
		if !ok || !strings.Contains(strings.ToLower(subj.subject.FirstName), needle) {
			continue
		}
		out = append(out, s.view(mp, subj))
	}
	return out, nil
}

// ListPolicies returns policies in insertion order.
func (s *MemoryStore) ListPolicies(ctx context.Context, limit int) ([]records.PolicyView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]records.PolicyView, 0)
	for _, mp := range s.policies {
		if limit > 0 && len(out) >= limit {
			break
		}
		subj, ok := s.subjectByID(mp.policy.SubjectID)
		if !ok {
			continue
		}
		out = append(out, s.view(mp, subj))
	}
	return out, nil
}

func (s *MemoryStore) view(mp memPolicy, subj memSubject) records.PolicyView {
	p := mp.policy
	return records.PolicyView{
		ID:             mp.id,
		Number:         p.Number,
		Type:           p.Type,
		StartDate:      p.StartDate,
		EndDate:        p.EndDate,
		Premium:        p.Premium,
		PremiumWritten: p.PremiumWritten,
		Active:         p.Active,
		Subject:        brief(subj),
		AgentName:      s.referenceName(records.KindAgent, p.AgentID),
		AccountName:    s.referenceName(records.KindAccount, p.AccountID),
		CategoryName:   s.referenceName(records.KindLOB, p.LOBID),
		CompanyName:    s.referenceName(records.KindCarrier, p.CarrierID),
	}
}

// AggregateBySubject orders subjects by policy count, then by ID.
func (s *MemoryStore) AggregateBySubject(ctx context.Context) ([]records.SubjectPolicies, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make(map[records.ID]*records.SubjectPolicies)
	for _, mp := range s.policies {
		p := mp.policy
		g, ok := groups[p.SubjectID]
		if !ok {
			subj, found := s.subjectByID(p.SubjectID)
			if !found {
				continue
			}
			g = &records.SubjectPolicies{Subject: brief(subj), TotalPremium: decimal.Zero}
			groups[p.SubjectID] = g
		}
		g.TotalPolicies++
		g.TotalPremium = g.TotalPremium.Add(p.Premium)
		g.Policies = append(g.Policies, records.PolicyBrief{
			Number:    p.Number,
			Type:      p.Type,
			Premium:   p.Premium,
			StartDate: p.StartDate,
			EndDate:   p.EndDate,
		})
	}

	out := make([]records.SubjectPolicies, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sortAggregates(out)
	return out, nil
}

func sortAggregates(out []records.SubjectPolicies) {
	slices.SortFunc(out, func(a, b records.SubjectPolicies) int {
		if c := cmp.Compare(b.TotalPolicies, a.TotalPolicies); c != 0 {
			return c
		}
		return cmp.Compare(a.Subject.ID, b.Subject.ID)
	})
}

func brief(m memSubject) records.SubjectBrief {
	return records.SubjectBrief{
		ID:        m.id,
		FirstName: m.subject.FirstName,
		Email:     m.subject.Email,
		Phone:     m.subject.Phone,
	}
}

var (
	_ records.Store         = (*MemoryStore)(nil)
	_ records.PolicyQueries = (*MemoryStore)(nil)
)
