package records

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy is the fact record. It references, but does not own, one subject and
// up to four reference entities.
type Policy struct {
	Number         string
	StartDate      time.Time
	EndDate        time.Time
	Mode           int
	Type           string
	Premium        decimal.Decimal
	PremiumWritten decimal.Decimal
	Producer       string
	CSR            string
	Active         bool

	SubjectID ID
	AgentID   *ID
	AccountID *ID
	LOBID     *ID
	CarrierID *ID
}
