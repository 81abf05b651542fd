package records

import "time"

// SubjectKey is the composite natural key of a subject.
type SubjectKey struct {
	FirstName string
	Email     string
	Phone     string
}

func (k SubjectKey) IsZero() bool {
	return k.FirstName == "" && k.Email == "" && k.Phone == ""
}

// Subject is a person extracted from uploaded rows.
type Subject struct {
	FirstName   string
	DOB         time.Time
	Address     string
	Phone       string
	State       string
	Zip         string
	Email       string
	Gender      string
	City        string
	SubjectType string
}

func (s Subject) Key() SubjectKey {
	return SubjectKey{
		FirstName: s.FirstName,
		Email:     s.Email,
		Phone:     s.Phone,
	}
}

type StoredSubject struct {
	ID        ID
	Key       SubjectKey
	CreatedAt time.Time
}
