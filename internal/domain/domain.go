package domain

import "github.com/shopspring/decimal"

// DistributionMode selects how a group's total reward is split across slots.
const (
	DistributionEqual    = "equal"
	DistributionWeighted = "weighted"
)

// Slot lifecycle statuses. "completed" and "rejected" are terminal.
const (
	StatusUnclaimed = "unclaimed"
	StatusClaimed   = "claimed"
	StatusUnsubmit  = "unsubmit"
	StatusSubmitted = "submitted"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
)

// MarkerReclaim is a transient timeline marker, never a slot status.
const MarkerReclaim = "reclaim"

// Reject options for a submitted slot.
const (
	RejectResubmit = "resubmit"
	RejectReclaim  = "reclaim"
	RejectRejected = "rejected"
)

// Identity is a caller as supplied by the external identity provider.
// The engine only ever compares IDs for equality.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type TaskGroup struct {
	ID                     string          `json:"id"`
	Title                  string          `json:"title"`
	Description            string          `json:"description,omitempty"`
	ActivityID             int64           `json:"activity_id,omitempty"`
	RegistrationOpensAt    string          `json:"registration_opens_at" format:"date-time"`
	RegistrationDeadline   string          `json:"registration_deadline" format:"date-time"`
	SubmitDeadline         *string         `json:"submit_deadline,omitempty" format:"date-time"`
	Capacity               int             `json:"capacity"`
	DistributionMode       string          `json:"distribution_mode" enum:"equal,weighted"`
	TotalReward            decimal.Decimal `json:"total_reward"`
	Currency               string          `json:"currency"`
	ProofConfig            *ProofConfig    `json:"proof_config,omitempty"`
	SubmissionInstructions string          `json:"submission_instructions,omitempty"`
	CreatorID              string          `json:"creator_id"`
	AssigneeIDs            []string        `json:"assignee_ids,omitempty"`
	CreatedAt              string          `json:"created_at" format:"date-time"`
	UpdatedAt              string          `json:"updated_at" format:"date-time"`
}

// Restricted reports whether claiming is limited to a named assignee set.
func (g TaskGroup) Restricted() bool { return len(g.AssigneeIDs) > 0 }

type TaskSlot struct {
	ID               string          `json:"id"`
	GroupID          string          `json:"group_id"`
	ClaimerID        *string         `json:"claimer_id,omitempty"`
	ClaimerName      *string         `json:"claimer_name,omitempty"`
	Reward           decimal.Decimal `json:"reward"`
	Currency         string          `json:"currency"`
	Weight           float64         `json:"weight"`
	ParticipantIndex int             `json:"participant_index"`
	Status           string          `json:"status" enum:"unclaimed,claimed,unsubmit,submitted,completed,rejected"`
	ProofJSON        *string         `json:"proof_json,omitempty"`
	RejectReason     *string         `json:"reject_reason,omitempty"`
	RejectOption     *string         `json:"reject_option,omitempty" enum:"resubmit,reclaim,rejected"`
	Discount         *string         `json:"discount,omitempty"`
	DiscountReason   *string         `json:"discount_reason,omitempty"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
	UpdatedAt        string          `json:"updated_at" format:"date-time"`
	ClaimedAt        *string         `json:"claimed_at,omitempty" format:"date-time"`
	SubmittedAt      *string         `json:"submitted_at,omitempty" format:"date-time"`
	CompletedAt      *string         `json:"completed_at,omitempty" format:"date-time"`
	TransferredAt    *string         `json:"transferred_at,omitempty" format:"date-time"`
}

// Claimed reports whether the slot is held by a participant.
func (s TaskSlot) Claimed() bool { return s.ClaimerID != nil && *s.ClaimerID != "" }

// TimelineEntry is one row of a slot's append-only history. Seq is assigned at
// insert time and is the authoritative order; timestamps are informational only.
type TimelineEntry struct {
	SlotID    string  `json:"slot_id"`
	Seq       int     `json:"seq"`
	Status    string  `json:"status"`
	ActorID   *string `json:"actor_id,omitempty"`
	ActorName *string `json:"actor_name,omitempty"`
	Action    *string `json:"action,omitempty"`
	Reason    *string `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type ProofConfig struct {
	Photo       *PhotoRequirement       `json:"photo,omitempty"`
	GPS         *GPSRequirement         `json:"gps,omitempty"`
	Description *DescriptionRequirement `json:"description,omitempty"`
}

type PhotoRequirement struct {
	Enabled      bool   `json:"enabled"`
	Count        int    `json:"count,omitempty"`
	Requirements string `json:"requirements,omitempty"`
}

type GPSRequirement struct {
	Enabled  bool   `json:"enabled"`
	Accuracy string `json:"accuracy,omitempty"`
}

type DescriptionRequirement struct {
	Enabled  bool   `json:"enabled"`
	MinChars int    `json:"min_chars,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// ProofPayload is the structured evidence a claimer submits. Photos carry
// references only (upload URL plus content hash), never file bytes.
type ProofPayload struct {
	Photos      []ProofFile `json:"photos,omitempty"`
	GPS         *GPSPoint   `json:"gps,omitempty"`
	Description string      `json:"description,omitempty"`
}

type ProofFile struct {
	URL  string `json:"url"`
	Hash string `json:"hash,omitempty"`
}

type GPSPoint struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name,omitempty"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
