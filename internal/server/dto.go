package server

import (
	"rewardline/internal/domain"
	"rewardline/internal/engine"
	"rewardline/internal/reward"
)

type WeightRequest struct {
	ParticipantIndex int     `json:"participant_index" minimum:"1"`
	Value            float64 `json:"value" exclusiveMinimum:"0"`
}

type CreateGroupRequest struct {
	Title                  string              `json:"title" minLength:"1"`
	Description            string              `json:"description,omitempty"`
	ActivityID             int64               `json:"activity_id,omitempty"`
	RegistrationOpensAt    string              `json:"registration_opens_at"`
	RegistrationDeadline   string              `json:"registration_deadline"`
	SubmitDeadline         string              `json:"submit_deadline,omitempty"`
	Capacity               int                 `json:"capacity" minimum:"1"`
	DistributionMode       string              `json:"distribution_mode" enum:"equal,weighted"`
	TotalReward            string              `json:"total_reward"`
	Currency               string              `json:"currency"`
	ProofConfig            *domain.ProofConfig `json:"proof_config,omitempty"`
	SubmissionInstructions string              `json:"submission_instructions,omitempty"`
	AssigneeIDs            []string            `json:"assignee_ids,omitempty"`
	Weights                []WeightRequest     `json:"weights,omitempty"`
}

type GroupResponse struct {
	ID                     string              `json:"id"`
	Title                  string              `json:"title"`
	Description            string              `json:"description,omitempty"`
	ActivityID             int64               `json:"activity_id,omitempty"`
	RegistrationOpensAt    string              `json:"registration_opens_at"`
	RegistrationDeadline   string              `json:"registration_deadline"`
	SubmitDeadline         *string             `json:"submit_deadline,omitempty"`
	Capacity               int                 `json:"capacity"`
	DistributionMode       string              `json:"distribution_mode"`
	TotalReward            string              `json:"total_reward"`
	Currency               string              `json:"currency"`
	ProofConfig            *domain.ProofConfig `json:"proof_config,omitempty"`
	SubmissionInstructions string              `json:"submission_instructions,omitempty"`
	CreatorID              string              `json:"creator_id"`
	AssigneeIDs            []string            `json:"assignee_ids,omitempty"`
	CreatedAt              string              `json:"created_at"`
	UpdatedAt              string              `json:"updated_at"`
}

type SlotResponse struct {
	ID               string  `json:"id"`
	GroupID          string  `json:"group_id"`
	ClaimerID        *string `json:"claimer_id,omitempty"`
	ClaimerName      *string `json:"claimer_name,omitempty"`
	Reward           string  `json:"reward"`
	Currency         string  `json:"currency"`
	Weight           float64 `json:"weight"`
	ParticipantIndex int     `json:"participant_index"`
	Status           string  `json:"status"`
	ProofJSON        *string `json:"proof_json,omitempty"`
	RejectReason     *string `json:"reject_reason,omitempty"`
	RejectOption     *string `json:"reject_option,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
	ClaimedAt        *string `json:"claimed_at,omitempty"`
	SubmittedAt      *string `json:"submitted_at,omitempty"`
	CompletedAt      *string `json:"completed_at,omitempty"`
	TransferredAt    *string `json:"transferred_at,omitempty"`
}

type GroupWithSlotsResponse struct {
	Group GroupResponse  `json:"group"`
	Slots []SlotResponse `json:"slots"`
}

type TimelineEntryResponse struct {
	Seq       int     `json:"seq"`
	Status    string  `json:"status"`
	ActorID   *string `json:"actor_id,omitempty"`
	ActorName *string `json:"actor_name,omitempty"`
	Action    *string `json:"action,omitempty"`
	Reason    *string `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type ApproveRequest struct {
	Comment string `json:"comment,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason" minLength:"1"`
	Option string `json:"option" enum:"resubmit,reclaim,rejected"`
}

type TransferAckRequest struct {
	Acknowledged bool `json:"acknowledged"`
}

func groupResponse(g domain.TaskGroup) GroupResponse {
	return GroupResponse{
		ID:                     g.ID,
		Title:                  g.Title,
		Description:            g.Description,
		ActivityID:             g.ActivityID,
		RegistrationOpensAt:    g.RegistrationOpensAt,
		RegistrationDeadline:   g.RegistrationDeadline,
		SubmitDeadline:         g.SubmitDeadline,
		Capacity:               g.Capacity,
		DistributionMode:       g.DistributionMode,
		TotalReward:            g.TotalReward.String(),
		Currency:               g.Currency,
		ProofConfig:            g.ProofConfig,
		SubmissionInstructions: g.SubmissionInstructions,
		CreatorID:              g.CreatorID,
		AssigneeIDs:            g.AssigneeIDs,
		CreatedAt:              g.CreatedAt,
		UpdatedAt:              g.UpdatedAt,
	}
}

func mapGroups(in []domain.TaskGroup) []GroupResponse {
	out := make([]GroupResponse, 0, len(in))
	for _, g := range in {
		out = append(out, groupResponse(g))
	}
	return out
}

func slotResponse(s domain.TaskSlot) SlotResponse {
	return SlotResponse{
		ID:               s.ID,
		GroupID:          s.GroupID,
		ClaimerID:        s.ClaimerID,
		ClaimerName:      s.ClaimerName,
		Reward:           s.Reward.String(),
		Currency:         s.Currency,
		Weight:           s.Weight,
		ParticipantIndex: s.ParticipantIndex,
		Status:           s.Status,
		ProofJSON:        s.ProofJSON,
		RejectReason:     s.RejectReason,
		RejectOption:     s.RejectOption,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		ClaimedAt:        s.ClaimedAt,
		SubmittedAt:      s.SubmittedAt,
		CompletedAt:      s.CompletedAt,
		TransferredAt:    s.TransferredAt,
	}
}

func mapSlots(in []domain.TaskSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(in))
	for _, s := range in {
		out = append(out, slotResponse(s))
	}
	return out
}

func mapTimeline(in []domain.TimelineEntry) []TimelineEntryResponse {
	out := make([]TimelineEntryResponse, 0, len(in))
	for _, e := range in {
		out = append(out, TimelineEntryResponse{
			Seq:       e.Seq,
			Status:    e.Status,
			ActorID:   e.ActorID,
			ActorName: e.ActorName,
			Action:    e.Action,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

func createOptions(req CreateGroupRequest, actor domain.Identity) engine.GroupCreateOptions {
	weights := make([]reward.Weight, 0, len(req.Weights))
	for _, w := range req.Weights {
		weights = append(weights, reward.Weight{ParticipantIndex: w.ParticipantIndex, Value: w.Value})
	}
	return engine.GroupCreateOptions{
		Title:                  req.Title,
		Description:            req.Description,
		ActivityID:             req.ActivityID,
		RegistrationOpensAt:    req.RegistrationOpensAt,
		RegistrationDeadline:   req.RegistrationDeadline,
		SubmitDeadline:         req.SubmitDeadline,
		Capacity:               req.Capacity,
		DistributionMode:       req.DistributionMode,
		TotalReward:            req.TotalReward,
		Currency:               req.Currency,
		ProofConfig:            req.ProofConfig,
		SubmissionInstructions: req.SubmissionInstructions,
		AssigneeIDs:            req.AssigneeIDs,
		Weights:                weights,
		Creator:                actor,
	}
}
