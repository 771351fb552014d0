package entity

import (
	"slices"
	"time"
)

// UserRef identifies a user by id and display name
type UserRef struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// CandidateHandler is a user eligible to act on the current step
type CandidateHandler struct {
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	HasOperated bool   `json:"has_operated"`
}

// SettledStep remembers who could act on the most recently settled step, so a
// late action by one of them is reported as lost rather than illegal
type SettledStep struct {
	StepIndex int      `json:"step_index"`
	Status    string   `json:"status"`
	UserIDs   []string `json:"user_ids"`
}

// WorkflowItem is a hazard record or a work permit; both look the same to the engine
type WorkflowItem struct {
	ID                   int64              `json:"id"`
	Kind                 string             `json:"kind"`
	DefinitionID         int64              `json:"definition_id"`
	Title                string             `json:"title"`
	Status               string             `json:"status"`
	CurrentStepIndex     int                `json:"current_step_index"`
	ApprovalMode         ApprovalMode       `json:"approval_mode,omitempty"`
	CandidateHandlers    []CandidateHandler `json:"candidate_handlers"`
	CCUsers              []string           `json:"cc_users"`
	CreatorID            string             `json:"creator_id"`
	CreatorName          string             `json:"creator_name"`
	CreatorDepartmentID  string             `json:"creator_department_id"`
	ExecutorID           string             `json:"executor_id,omitempty"`
	ExecutorName         string             `json:"executor_name,omitempty"`
	ResponsibleID        string             `json:"responsible_id,omitempty"`
	VerifierID           string             `json:"verifier_id,omitempty"`
	HistoricalHandlerIDs []string           `json:"historical_handler_ids"`
	SettledStep          *SettledStep       `json:"settled_step,omitempty"`
	FormData             map[string]any     `json:"form_data"`
	Logs                 []LogEntry         `json:"logs,omitempty"`
	VisibilityStale      bool               `json:"visibility_stale"`
	Version              int64              `json:"version"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so callers can derive a next state without touching the original
func (i *WorkflowItem) Clone() *WorkflowItem {
	if i == nil {
		return nil
	}
	c := *i
	c.CandidateHandlers = slices.Clone(i.CandidateHandlers)
	c.CCUsers = slices.Clone(i.CCUsers)
	c.HistoricalHandlerIDs = slices.Clone(i.HistoricalHandlerIDs)
	c.Logs = slices.Clone(i.Logs)
	if i.SettledStep != nil {
		settled := *i.SettledStep
		settled.UserIDs = slices.Clone(i.SettledStep.UserIDs)
		c.SettledStep = &settled
	}
	if i.FormData != nil {
		c.FormData = make(map[string]any, len(i.FormData))
		for k, v := range i.FormData {
			c.FormData[k] = v
		}
	}
	return &c
}

// CandidateIndex returns the position of userID in the candidate list, or -1
func (i *WorkflowItem) CandidateIndex(userID string) int {
	for idx, c := range i.CandidateHandlers {
		if c.UserID == userID {
			return idx
		}
	}
	return -1
}

// AddHistorical records ids in HistoricalHandlerIDs, keeping first-seen order
func (i *WorkflowItem) AddHistorical(ids ...string) {
	for _, id := range ids {
		if id == "" || slices.Contains(i.HistoricalHandlerIDs, id) {
			continue
		}
		i.HistoricalHandlerIDs = append(i.HistoricalHandlerIDs, id)
	}
}

// FormString reads a string value from form data
func (i *WorkflowItem) FormString(key string) string {
	if i.FormData == nil {
		return ""
	}
	if s, ok := i.FormData[key].(string); ok {
		return s
	}
	return ""
}

// LogEntry is one append-only audit record
type LogEntry struct {
	ID              int64     `json:"id"`
	ItemID          int64     `json:"item_id"`
	Seq             int       `json:"seq"`
	StepIndex       int       `json:"step_index"`
	OperatorID      string    `json:"operator_id"`
	OperatorName    string    `json:"operator_name"`
	Action          string    `json:"action"`
	Timestamp       time.Time `json:"timestamp"`
	FreeTextChanges string    `json:"free_text_changes"`
	CCUserNames     []string  `json:"cc_user_names,omitempty"`
}

// ItemVisibility is one row of the materialized authorization index
type ItemVisibility struct {
	ItemID int64          `json:"item_id"`
	UserID string         `json:"user_id"`
	Role   VisibilityRole `json:"role"`
}

// ItemDocument is the spreadsheet attached to an item (permit form)
type ItemDocument struct {
	ItemID    int64     `json:"item_id"`
	FileName  string    `json:"file_name"`
	Content   []byte    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}
