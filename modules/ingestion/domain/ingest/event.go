package ingest

import (
	"time"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

type Stage string

const (
	StageIdle               Stage = "idle"
	StageConnecting         Stage = "connecting"
	StageExtractingEntities Stage = "extracting_entities"
	StagePersistingAgents   Stage = "persisting_agents"
	StagePersistingAccounts Stage = "persisting_accounts"
	StagePersistingLOBs     Stage = "persisting_lobs"
	StagePersistingCarriers Stage = "persisting_carriers"
	StagePersistingSubjects Stage = "persisting_subjects"
	StageResolving          Stage = "resolving"
	StagePersistingFacts    Stage = "persisting_facts"
	StageComplete           Stage = "complete"
	StageFailed             Stage = "failed"
)

var stagePercent = map[Stage]int{
	StageIdle:               0,
	StageConnecting:         5,
	StageExtractingEntities: 10,
	StagePersistingAgents:   20,
	StagePersistingAccounts: 30,
	StagePersistingLOBs:     40,
	StagePersistingCarriers: 50,
	StagePersistingSubjects: 60,
	StageResolving:          70,
	StagePersistingFacts:    80,
	StageComplete:           100,
}

var stageMessage = map[Stage]string{
	StageConnecting:         "Connecting to storage",
	StageExtractingEntities: "Extracting unique entities",
	StagePersistingAgents:   "Saving agents",
	StagePersistingAccounts: "Saving accounts",
	StagePersistingLOBs:     "Saving lines of business",
	StagePersistingCarriers: "Saving carriers",
	StagePersistingSubjects: "Saving subjects",
	StageResolving:          "Resolving references",
	StagePersistingFacts:    "Saving policies",
	StageComplete:           "Import complete",
}

// Percent is the progress value reported when a run enters the stage. Failed
// has no percent of its own and keeps the last reported value.
func (s Stage) Percent() int {
	return stagePercent[s]
}

func (s Stage) Message() string {
	return stageMessage[s]
}

func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// PersistStage is the stage that upserts references of kind.
func PersistStage(kind records.Kind) Stage {
	switch kind {
	case records.KindAgent:
		return StagePersistingAgents
	case records.KindAccount:
		return StagePersistingAccounts
	case records.KindLOB:
		return StagePersistingLOBs
	case records.KindCarrier:
		return StagePersistingCarriers
	default:
		return Stage("persisting_" + kind.Plural())
	}
}

type EventType string

const (
	EventProgress EventType = "progress"
	EventWarning  EventType = "warning"
	EventComplete EventType = "complete"
	EventFailed   EventType = "failed"
)

// Event is one message on a run's progress channel.
type Event struct {
	RunID   string    `json:"run_id"`
	Type    EventType `json:"type"`
	Stage   Stage     `json:"stage"`
	Percent int       `json:"percent"`
	Message string    `json:"message,omitempty"`
	Summary *Summary  `json:"summary,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventFailed
}

// Rejected counts records a run could not write.
type Rejected struct {
	Subjects int `json:"subjects"`
	Facts    int `json:"facts"`
	Rows     int `json:"rows"`
}

// Summary is carried by the completion event. Reference counts are the stored
// totals seen by the resolver; subjects and facts are what this run inserted.
type Summary struct {
	Agents   int      `json:"agents"`
	Accounts int      `json:"accounts"`
	Lobs     int      `json:"lobs"`
	Carriers int      `json:"carriers"`
	Subjects int      `json:"subjects"`
	Facts    int      `json:"facts"`
	Rejected Rejected `json:"rejected"`
	Warnings int      `json:"warnings"`
}

// SetReferences stores the count for kind.
func (s *Summary) SetReferences(kind records.Kind, n int) {
	switch kind {
	case records.KindAgent:
		s.Agents = n
	case records.KindAccount:
		s.Accounts = n
	case records.KindLOB:
		s.Lobs = n
	case records.KindCarrier:
		s.Carriers = n
	}
}
