// Package engine implements the slot lifecycle. Transitions are enforced by
// conditional writes at the storage layer rather than in-process locks, so
// concurrent callers race on the database row and exactly one wins.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"rewardline/internal/config"
	"rewardline/internal/domain"
	"rewardline/internal/fault"
	"rewardline/internal/obs"
	"rewardline/internal/proof"
	"rewardline/internal/repo"
	"rewardline/internal/reward"
	"rewardline/internal/timeline"
	"rewardline/internal/timeutil"
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Timeline    timeline.Log
	Config      *config.Config
	Clock       timeutil.Clock
	Log         *slog.Logger
	Transitions metric.Float64Counter
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	counter, _ := obs.NewFloatCounter("slot_transitions_total", "Number of applied slot lifecycle transitions", "1")
	return Engine{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		Timeline:    timeline.Log{DB: db},
		Config:      cfg,
		Clock:       timeutil.New(cfg.Timezone.OffsetMinutes),
		Log:         obs.Logger(),
		Transitions: counter,
	}
}

func (e Engine) record(ctx context.Context, action string) {
	if e.Transitions != nil {
		e.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// GroupCreateOptions are parameters for creating a task group.
type GroupCreateOptions struct {
	Title                  string
	Description            string
	ActivityID             int64
	RegistrationOpensAt    string
	RegistrationDeadline   string
	SubmitDeadline         string
	Capacity               int
	DistributionMode       string
	TotalReward            string
	Currency               string
	ProofConfig            *domain.ProofConfig
	SubmissionInstructions string
	AssigneeIDs            []string
	Weights                []reward.Weight
	Creator                domain.Identity
}

// CreateGroup creates a group plus its full set of slots, each opening its
// timeline with an "unclaimed" entry. Everything commits in one transaction;
// a group is never observable with a partial slot set.
func (e Engine) CreateGroup(ctx context.Context, opts GroupCreateOptions) (domain.TaskGroup, []domain.TaskSlot, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidInput, "title is required")
	}
	if opts.Creator.ID == "" {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidInput, "creator is required")
	}
	if opts.Capacity < 1 {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidInput, "capacity must be >= 1")
	}
	if !e.Config.KnownCurrency(opts.Currency) {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidInput, "unknown currency %q", opts.Currency)
	}
	opensAt, err := e.Clock.ParseLocal(opts.RegistrationOpensAt)
	if err != nil {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidTimestamp, "registration_opens_at: %v", err)
	}
	deadline, err := e.Clock.ParseLocal(opts.RegistrationDeadline)
	if err != nil {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidTimestamp, "registration_deadline: %v", err)
	}
	if !opensAt.Before(deadline) {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidInput, "registration window must open before it closes")
	}
	var submitDeadline *string
	if strings.TrimSpace(opts.SubmitDeadline) != "" {
		t, err := e.Clock.ParseLocal(opts.SubmitDeadline)
		if err != nil {
			return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidTimestamp, "submit_deadline: %v", err)
		}
		s := e.Clock.FormatLocal(t)
		submitDeadline = &s
	}
	total, err := decimal.NewFromString(strings.TrimSpace(opts.TotalReward))
	if err != nil {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidInput, "total_reward: %v", err)
	}
	rewards, err := reward.Split(total, opts.Capacity, opts.DistributionMode, opts.Weights)
	if err != nil {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidDistribution, "%v", err)
	}
	coeffs, err := reward.Coefficients(opts.Capacity, opts.DistributionMode, opts.Weights)
	if err != nil {
		return domain.TaskGroup{}, nil, fault.Validation(fault.CodeInvalidDistribution, "%v", err)
	}

	now := e.Clock.NowUTC().Format(time.RFC3339)
	g := domain.TaskGroup{
		ID:                     uuid.New().String(),
		Title:                  strings.TrimSpace(opts.Title),
		Description:            opts.Description,
		ActivityID:             opts.ActivityID,
		RegistrationOpensAt:    e.Clock.FormatLocal(opensAt),
		RegistrationDeadline:   e.Clock.FormatLocal(deadline),
		SubmitDeadline:         submitDeadline,
		Capacity:               opts.Capacity,
		DistributionMode:       opts.DistributionMode,
		TotalReward:            total,
		Currency:               opts.Currency,
		ProofConfig:            opts.ProofConfig,
		SubmissionInstructions: opts.SubmissionInstructions,
		CreatorID:              opts.Creator.ID,
		AssigneeIDs:            dedupe(opts.AssigneeIDs),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	slots := make([]domain.TaskSlot, opts.Capacity)
	for i := range slots {
		slots[i] = domain.TaskSlot{
			ID:               uuid.New().String(),
			GroupID:          g.ID,
			Reward:           rewards[i],
			Currency:         g.Currency,
			Weight:           coeffs[i],
			ParticipantIndex: i + 1,
			Status:           domain.StatusUnclaimed,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskGroup{}, nil, fault.Storage(err)
	}
	defer tx.Rollback()

	if err := e.Repo.InsertGroupTx(ctx, tx, g); err != nil {
		return domain.TaskGroup{}, nil, fault.Storage(err)
	}
	for _, s := range slots {
		if err := e.Repo.InsertSlotTx(ctx, tx, s); err != nil {
			return domain.TaskGroup{}, nil, fault.Storage(err)
		}
		if err := e.Timeline.AppendTx(ctx, tx, s.ID, domain.TimelineEntry{
			Status:    domain.StatusUnclaimed,
			CreatedAt: now,
		}); err != nil {
			return domain.TaskGroup{}, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskGroup{}, nil, fault.Storage(err)
	}
	e.record(ctx, "create_group")
	e.logger().Info("group created", "group_id", g.ID, "capacity", g.Capacity, "creator_id", g.CreatorID)
	return g, slots, nil
}

// Claim assigns the caller the free slot with the lowest participant index.
// The assignment is a conditional write; losing the race to a concurrent
// claimer triggers a bounded re-read and retry before giving up.
func (e Engine) Claim(ctx context.Context, groupID string, actor domain.Identity) (domain.TaskSlot, error) {
	if actor.ID == "" {
		return domain.TaskSlot{}, fault.Validation(fault.CodeInvalidInput, "actor is required")
	}
	g, err := e.group(ctx, groupID)
	if err != nil {
		return domain.TaskSlot{}, err
	}
	held, err := e.Repo.HasClaimInGroup(ctx, groupID, actor.ID)
	if err != nil {
		return domain.TaskSlot{}, fault.Storage(err)
	}
	if held {
		return domain.TaskSlot{}, fault.Conflict(fault.CodeAlreadyClaimed, "actor %s already holds a slot in this group", actor.ID)
	}
	if err := e.ensureWindowOpen(g); err != nil {
		return domain.TaskSlot{}, err
	}
	if g.Restricted() && actor.ID != g.CreatorID && !contains(g.AssigneeIDs, actor.ID) {
		return domain.TaskSlot{}, fault.Authorization(fault.CodeNotEligible, "group is restricted to named assignees")
	}

	retries := e.Config.Claims.MaxRetries
	if retries < 1 {
		retries = 1
	}
	now := e.Clock.NowUTC().Format(time.RFC3339)
	for attempt := 0; attempt < retries; attempt++ {
		free, err := e.Repo.LowestFreeSlot(ctx, groupID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TaskSlot{}, fault.Conflict(fault.CodeNoFreeSlot, "no free slot in group %s", groupID)
		}
		if err != nil {
			return domain.TaskSlot{}, fault.Storage(err)
		}
		won, err := e.Repo.ClaimSlot(ctx, free.ID, actor.ID, actor.Name, now)
		if err != nil {
			return domain.TaskSlot{}, fault.Storage(err)
		}
		if !won {
			continue
		}
		slot, err := e.Repo.GetSlot(ctx, free.ID)
		if err != nil {
			return domain.TaskSlot{}, fault.Storage(err)
		}
		e.record(ctx, "claim")
		e.logger().Info("slot claimed", "slot_id", slot.ID, "group_id", groupID, "participant_index", slot.ParticipantIndex, "actor_id", actor.ID)
		if err := e.Timeline.Append(ctx, slot.ID, domain.TimelineEntry{
			Status:    domain.StatusClaimed,
			ActorID:   &actor.ID,
			ActorName: optionalString(actor.Name),
			Action:    ptr("claim"),
		}); err != nil {
			return slot, e.partial(ctx, "claim", slot.ID, err)
		}
		return slot, nil
	}
	return domain.TaskSlot{}, fault.Conflict(fault.CodeNoFreeSlot, "no free slot in group %s", groupID)
}

// SubmitProof validates and stores the claimer's evidence, moving the slot to
// submitted. Allowed from claimed or unsubmit.
func (e Engine) SubmitProof(ctx context.Context, slotID string, actor domain.Identity, payload domain.ProofPayload) (domain.TaskSlot, error) {
	slot, err := e.slot(ctx, slotID)
	if err != nil {
		return domain.TaskSlot{}, err
	}
	g, err := e.group(ctx, slot.GroupID)
	if err != nil {
		return domain.TaskSlot{}, err
	}
	if !slot.Claimed() || *slot.ClaimerID != actor.ID {
		return slot, fault.Authorization(fault.CodeNotClaimer, "only the slot claimer can submit proof")
	}
	if slot.Status != domain.StatusClaimed && slot.Status != domain.StatusUnsubmit {
		return slot, fault.Conflict(fault.CodeWrongState, "cannot submit from status %s", slot.Status)
	}
	if err := proof.Validate(e.effectiveProofConfig(g.ProofConfig), payload); err != nil {
		return slot, fault.Validation(fault.CodeProofValidation, "%v", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return slot, fault.Validation(fault.CodeInvalidInput, "proof payload: %v", err)
	}
	now := e.Clock.NowUTC().Format(time.RFC3339)
	won, err := e.Repo.SubmitProof(ctx, slot.ID, actor.ID, string(raw), now)
	if err != nil {
		return slot, fault.Storage(err)
	}
	if !won {
		return slot, fault.Conflict(fault.CodeWrongState, "slot changed concurrently; re-read and retry")
	}
	e.record(ctx, "submit")
	e.logger().Info("proof submitted", "slot_id", slot.ID, "actor_id", actor.ID)
	updated, err := e.Repo.GetSlot(ctx, slot.ID)
	if err != nil {
		return slot, fault.Storage(err)
	}
	if err := e.Timeline.Append(ctx, slot.ID, domain.TimelineEntry{
		Status:    domain.StatusSubmitted,
		ActorID:   &actor.ID,
		ActorName: optionalString(actor.Name),
		Action:    ptr("submit"),
	}); err != nil {
		return updated, e.partial(ctx, "submit", slot.ID, err)
	}
	return updated, nil
}

// Approve completes a submitted slot. Only the group creator may approve, and
// only with proof on file. The optional comment is stored as the latest
// reviewer note.
func (e Engine) Approve(ctx context.Context, slotID string, actor domain.Identity, comment string) (domain.TaskSlot, error) {
	slot, g, err := e.slotForReview(ctx, slotID, actor)
	if err != nil {
		return slot, err
	}
	_ = g
	if slot.ProofJSON == nil {
		return slot, fault.Conflict(fault.CodeNoProofOnFile, "cannot approve a slot with no proof on file")
	}
	now := e.Clock.NowUTC().Format(time.RFC3339)
	won, err := e.Repo.CompleteSlot(ctx, slot.ID, comment, now)
	if err != nil {
		return slot, fault.Storage(err)
	}
	if !won {
		return slot, fault.Conflict(fault.CodeWrongState, "slot changed concurrently; re-read and retry")
	}
	e.record(ctx, "approve")
	e.logger().Info("slot approved", "slot_id", slot.ID, "actor_id", actor.ID)
	updated, err := e.Repo.GetSlot(ctx, slot.ID)
	if err != nil {
		return slot, fault.Storage(err)
	}
	if err := e.Timeline.Append(ctx, slot.ID, domain.TimelineEntry{
		Status:    domain.StatusCompleted,
		ActorID:   &actor.ID,
		ActorName: optionalString(actor.Name),
		Action:    ptr("approve"),
		Reason:    optionalString(comment),
	}); err != nil {
		return updated, e.partial(ctx, "approve", slot.ID, err)
	}
	return updated, nil
}

// Reject turns down a submitted slot. The option selects what happens next:
// resubmit keeps the claim and clears the proof, reclaim frees the slot for
// anyone, rejected is terminal. A reason is always required.
func (e Engine) Reject(ctx context.Context, slotID string, actor domain.Identity, reason, option string) (domain.TaskSlot, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.TaskSlot{}, fault.Validation(fault.CodeMissingReason, "a rejection reason is required")
	}
	switch option {
	case domain.RejectResubmit, domain.RejectReclaim, domain.RejectRejected:
	default:
		return domain.TaskSlot{}, fault.Validation(fault.CodeInvalidRejectOption, "unknown reject option %q", option)
	}
	slot, _, err := e.slotForReview(ctx, slotID, actor)
	if err != nil {
		return slot, err
	}
	now := e.Clock.NowUTC().Format(time.RFC3339)

	var won bool
	switch option {
	case domain.RejectResubmit:
		won, err = e.Repo.RejectForResubmit(ctx, slot.ID, reason, now)
	case domain.RejectReclaim:
		won, err = e.Repo.RejectForReclaim(ctx, slot.ID, reason, now)
	case domain.RejectRejected:
		won, err = e.Repo.RejectTerminal(ctx, slot.ID, reason, now)
	}
	if err != nil {
		return slot, fault.Storage(err)
	}
	if !won {
		return slot, fault.Conflict(fault.CodeWrongState, "slot changed concurrently; re-read and retry")
	}
	e.record(ctx, "reject_"+option)
	e.logger().Info("slot rejected", "slot_id", slot.ID, "actor_id", actor.ID, "option", option)

	updated, err := e.Repo.GetSlot(ctx, slot.ID)
	if err != nil {
		return slot, fault.Storage(err)
	}
	switch option {
	case domain.RejectResubmit:
		err = e.Timeline.Append(ctx, slot.ID, domain.TimelineEntry{
			Status:    domain.StatusUnsubmit,
			ActorID:   &actor.ID,
			ActorName: optionalString(actor.Name),
			Action:    ptr("reject"),
			Reason:    &reason,
		})
	case domain.RejectReclaim:
		// Two entries: the reviewer's reclaim marker carries the reason, then
		// the slot re-enters circulation as unclaimed with no actor.
		err = e.Timeline.Append(ctx, slot.ID, domain.TimelineEntry{
			Status:    domain.MarkerReclaim,
			ActorID:   &actor.ID,
			ActorName: optionalString(actor.Name),
			Action:    ptr("reject"),
			Reason:    &reason,
		})
		if err == nil {
			err = e.Timeline.Append(ctx, slot.ID, domain.TimelineEntry{Status: domain.StatusUnclaimed})
		}
	case domain.RejectRejected:
		err = e.Timeline.Append(ctx, slot.ID, domain.TimelineEntry{
			Status:    domain.StatusRejected,
			ActorID:   &actor.ID,
			ActorName: optionalString(actor.Name),
			Action:    ptr("reject"),
			Reason:    &reason,
		})
	}
	if err != nil {
		return updated, e.partial(ctx, "reject", slot.ID, err)
	}
	return updated, nil
}

// AcknowledgeTransfer sets or clears the reward-transferred marker on a
// completed slot. The lifecycle status is not touched.
func (e Engine) AcknowledgeTransfer(ctx context.Context, slotID string, actor domain.Identity, acknowledged bool) (domain.TaskSlot, error) {
	slot, err := e.slot(ctx, slotID)
	if err != nil {
		return domain.TaskSlot{}, err
	}
	g, err := e.group(ctx, slot.GroupID)
	if err != nil {
		return domain.TaskSlot{}, err
	}
	if actor.ID != g.CreatorID {
		return slot, fault.Authorization(fault.CodeNotCreator, "only the group creator can acknowledge transfers")
	}
	if slot.Status != domain.StatusCompleted {
		return slot, fault.Conflict(fault.CodeWrongState, "cannot acknowledge transfer from status %s", slot.Status)
	}
	now := e.Clock.NowUTC().Format(time.RFC3339)
	var transferredAt *string
	if acknowledged {
		transferredAt = &now
	}
	won, err := e.Repo.SetTransferAck(ctx, slot.ID, transferredAt, now)
	if err != nil {
		return slot, fault.Storage(err)
	}
	if !won {
		return slot, fault.Conflict(fault.CodeWrongState, "slot changed concurrently; re-read and retry")
	}
	e.logger().Info("transfer acknowledged", "slot_id", slot.ID, "acknowledged", acknowledged)
	updated, err := e.Repo.GetSlot(ctx, slot.ID)
	if err != nil {
		return slot, fault.Storage(err)
	}
	return updated, nil
}

// GetGroup returns one group.
func (e Engine) GetGroup(ctx context.Context, id string) (domain.TaskGroup, error) {
	return e.group(ctx, id)
}

// ListGroups returns all groups, newest first.
func (e Engine) ListGroups(ctx context.Context) ([]domain.TaskGroup, error) {
	groups, err := e.Repo.ListGroups(ctx)
	if err != nil {
		return nil, fault.Storage(err)
	}
	return groups, nil
}

// GetSlot returns one slot.
func (e Engine) GetSlot(ctx context.Context, id string) (domain.TaskSlot, error) {
	return e.slot(ctx, id)
}

// ListGroupSlots returns a group's slots ordered by participant index.
func (e Engine) ListGroupSlots(ctx context.Context, groupID string) ([]domain.TaskSlot, error) {
	if _, err := e.group(ctx, groupID); err != nil {
		return nil, err
	}
	slots, err := e.Repo.ListGroupSlots(ctx, groupID)
	if err != nil {
		return nil, fault.Storage(err)
	}
	return slots, nil
}

// SlotTimeline returns a slot's history oldest first.
func (e Engine) SlotTimeline(ctx context.Context, slotID string) ([]domain.TimelineEntry, error) {
	return e.Timeline.Read(ctx, slotID)
}

// --- guards and helpers ---

func (e Engine) group(ctx context.Context, id string) (domain.TaskGroup, error) {
	g, err := e.Repo.GetGroup(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return g, fault.NotFound(fault.CodeGroupNotFound, "group %s not found", id)
	}
	if err != nil {
		return g, fault.Storage(err)
	}
	return g, nil
}

func (e Engine) slot(ctx context.Context, id string) (domain.TaskSlot, error) {
	s, err := e.Repo.GetSlot(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return s, fault.NotFound(fault.CodeSlotNotFound, "slot %s not found", id)
	}
	if err != nil {
		return s, fault.Storage(err)
	}
	return s, nil
}

// slotForReview loads the slot and group and checks the caller is the group
// creator reviewing a submitted slot.
func (e Engine) slotForReview(ctx context.Context, slotID string, actor domain.Identity) (domain.TaskSlot, domain.TaskGroup, error) {
	slot, err := e.slot(ctx, slotID)
	if err != nil {
		return domain.TaskSlot{}, domain.TaskGroup{}, err
	}
	g, err := e.group(ctx, slot.GroupID)
	if err != nil {
		return slot, domain.TaskGroup{}, err
	}
	if actor.ID != g.CreatorID {
		return slot, g, fault.Authorization(fault.CodeNotCreator, "only the group creator can review submissions")
	}
	if slot.Status != domain.StatusSubmitted {
		return slot, g, fault.Conflict(fault.CodeWrongState, "cannot review from status %s", slot.Status)
	}
	return slot, g, nil
}

func (e Engine) ensureWindowOpen(g domain.TaskGroup) error {
	opensAt, err := e.Clock.ParseLocal(g.RegistrationOpensAt)
	if err != nil {
		return fault.Validation(fault.CodeInvalidTimestamp, "registration_opens_at: %v", err)
	}
	deadline, err := e.Clock.ParseLocal(g.RegistrationDeadline)
	if err != nil {
		return fault.Validation(fault.CodeInvalidTimestamp, "registration_deadline: %v", err)
	}
	now := e.Clock.NowUTC()
	if now.Before(opensAt) || now.After(deadline) {
		return fault.Conflict(fault.CodeOutsideWindow, "registration window is %s to %s", g.RegistrationOpensAt, g.RegistrationDeadline)
	}
	return nil
}

// partial logs and wraps a failed trailing timeline append. The applied status
// write stays; the history is the part that is missing.
func (e Engine) partial(ctx context.Context, action, slotID string, err error) error {
	e.logger().Error("timeline append failed after applied transition", "action", action, "slot_id", slotID, "error", err)
	return fault.Partial(err, "%s applied but timeline append failed for slot %s", action, slotID)
}

func (e Engine) effectiveProofConfig(cfg *domain.ProofConfig) *domain.ProofConfig {
	if cfg == nil || cfg.Description == nil || !cfg.Description.Enabled || cfg.Description.MinChars > 0 {
		return cfg
	}
	out := *cfg
	desc := *cfg.Description
	desc.MinChars = e.Config.Proof.DefaultMinDescriptionChars
	out.Description = &desc
	return &out
}

func contains(in []string, v string) bool {
	for _, s := range in {
		if s == v {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptr(s string) *string { return &s }
