package records

import (
	"strings"
	"time"
)

// ID is a persisted identifier. IDs grow with insertion order.
type ID int64

type Kind string

const (
	KindAgent   Kind = "agent"
	KindAccount Kind = "account"
	KindLOB     Kind = "lob"
	KindCarrier Kind = "carrier"
)

// Kinds lists the reference kinds in the order they are persisted.
var Kinds = []Kind{KindAgent, KindAccount, KindLOB, KindCarrier}

func (k Kind) String() string { return string(k) }

// Plural is the label used in stage names and summaries.
func (k Kind) Plural() string {
	switch k {
	case KindAgent:
		return "agents"
	case KindAccount:
		return "accounts"
	case KindLOB:
		return "lobs"
	case KindCarrier:
		return "carriers"
	default:
		return string(k) + "s"
	}
}

// Reference is a low-cardinality dimension record unique by its natural key.
type Reference interface {
	Kind() Kind
	NaturalKey() string
}

type Agent struct {
	Name     string
	AgencyID string
}

func (a Agent) Kind() Kind         { return KindAgent }
func (a Agent) NaturalKey() string { return strings.TrimSpace(a.Name) }

type Account struct {
	Name string
	Type string
}

func (a Account) Kind() Kind         { return KindAccount }
func (a Account) NaturalKey() string { return strings.TrimSpace(a.Name) }

type LineOfBusiness struct {
	CategoryName string
}

func (l LineOfBusiness) Kind() Kind         { return KindLOB }
func (l LineOfBusiness) NaturalKey() string { return strings.TrimSpace(l.CategoryName) }

type Carrier struct {
	CompanyName string
}

func (c Carrier) Kind() Kind         { return KindCarrier }
func (c Carrier) NaturalKey() string { return strings.TrimSpace(c.CompanyName) }

// StoredReference is the persisted identity of a reference entity.
type StoredReference struct {
	ID        ID
	Kind      Kind
	Key       string
	CreatedAt time.Time
}
