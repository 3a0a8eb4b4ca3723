package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rewardline/internal/config"
	"rewardline/internal/db"
	"rewardline/internal/domain"
	"rewardline/internal/engine"
	"rewardline/internal/fault"
	"rewardline/internal/migrate"
	"rewardline/internal/reward"
)

var (
	creator   = domain.Identity{ID: "creator-1", Name: "Casey"}
	claimer   = domain.Identity{ID: "worker-1", Name: "Ada"}
	claimer2  = domain.Identity{ID: "worker-2", Name: "Grace"}
	testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Clock.Now = func() time.Time { return testClock }
	eng.Timeline.Now = func() time.Time { return testClock }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func baseOptions() engine.GroupCreateOptions {
	return engine.GroupCreateOptions{
		Title:                "Plant 20 trees",
		RegistrationOpensAt:  "2026-03-01T00:00",
		RegistrationDeadline: "2026-03-02T00:00",
		Capacity:             2,
		DistributionMode:     domain.DistributionEqual,
		TotalReward:          "100",
		Currency:             "ETH",
		Creator:              creator,
	}
}

func mustCreate(t *testing.T, env testEnv, opts engine.GroupCreateOptions) (domain.TaskGroup, []domain.TaskSlot) {
	t.Helper()
	g, slots, err := env.Engine.CreateGroup(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return g, slots
}

func faultCode(t *testing.T, err error) string {
	t.Helper()
	var fe *fault.Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected fault error, got %v", err)
	}
	return fe.Code
}

func TestCreateGroupEqualSplit(t *testing.T) {
	env := newTestEnv(t)
	_, slots := mustCreate(t, env, baseOptions())
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	want := decimal.RequireFromString("50")
	for i, s := range slots {
		if !s.Reward.Equal(want) {
			t.Fatalf("slot %d reward = %s, want 50", i, s.Reward)
		}
		if s.ParticipantIndex != i+1 {
			t.Fatalf("slot %d index = %d", i, s.ParticipantIndex)
		}
		if s.Status != domain.StatusUnclaimed {
			t.Fatalf("slot %d status = %s", i, s.Status)
		}
		entries, err := env.Engine.SlotTimeline(env.Ctx, s.ID)
		if err != nil {
			t.Fatalf("timeline: %v", err)
		}
		if len(entries) != 1 || entries[0].Status != domain.StatusUnclaimed {
			t.Fatalf("slot %d timeline = %+v, want single unclaimed entry", i, entries)
		}
	}
}

func TestCreateGroupWeightedSplit(t *testing.T) {
	env := newTestEnv(t)
	opts := baseOptions()
	opts.DistributionMode = domain.DistributionWeighted
	opts.Weights = []reward.Weight{
		{ParticipantIndex: 1, Value: 1},
		{ParticipantIndex: 2, Value: 3},
	}
	_, slots := mustCreate(t, env, opts)
	if !slots[0].Reward.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("slot 1 reward = %s, want 25", slots[0].Reward)
	}
	if !slots[1].Reward.Equal(decimal.RequireFromString("75")) {
		t.Fatalf("slot 2 reward = %s, want 75", slots[1].Reward)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	env := newTestEnv(t)

	opts := baseOptions()
	opts.Currency = "DOGE"
	if _, _, err := env.Engine.CreateGroup(env.Ctx, opts); err == nil {
		t.Fatal("expected unknown currency error")
	}

	opts = baseOptions()
	opts.RegistrationOpensAt = "not-a-time"
	_, _, err := env.Engine.CreateGroup(env.Ctx, opts)
	if code := faultCode(t, err); code != fault.CodeInvalidTimestamp {
		t.Fatalf("code = %s, want invalid_timestamp", code)
	}

	opts = baseOptions()
	opts.DistributionMode = domain.DistributionWeighted
	opts.Weights = []reward.Weight{{ParticipantIndex: 1, Value: 1}}
	_, _, err = env.Engine.CreateGroup(env.Ctx, opts)
	if code := faultCode(t, err); code != fault.CodeInvalidDistribution {
		t.Fatalf("code = %s, want invalid_distribution", code)
	}
}

func TestClaimAssignsLowestIndex(t *testing.T) {
	env := newTestEnv(t)
	g, _ := mustCreate(t, env, baseOptions())

	s1, err := env.Engine.Claim(env.Ctx, g.ID, claimer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if s1.ParticipantIndex != 1 || s1.Status != domain.StatusClaimed {
		t.Fatalf("first claim got index %d status %s", s1.ParticipantIndex, s1.Status)
	}
	if s1.ClaimerID == nil || *s1.ClaimerID != claimer.ID {
		t.Fatalf("claimer not recorded: %+v", s1)
	}

	s2, err := env.Engine.Claim(env.Ctx, g.ID, claimer2)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if s2.ParticipantIndex != 2 {
		t.Fatalf("second claim got index %d", s2.ParticipantIndex)
	}

	entries, err := env.Engine.SlotTimeline(env.Ctx, s1.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(entries) != 2 || entries[1].Status != domain.StatusClaimed {
		t.Fatalf("timeline = %+v", entries)
	}
}

func TestClaimTwiceSameActor(t *testing.T) {
	env := newTestEnv(t)
	g, _ := mustCreate(t, env, baseOptions())
	if _, err := env.Engine.Claim(env.Ctx, g.ID, claimer); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := env.Engine.Claim(env.Ctx, g.ID, claimer)
	if code := faultCode(t, err); code != fault.CodeAlreadyClaimed {
		t.Fatalf("code = %s, want already_claimed", code)
	}
}

func TestClaimOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	opts := baseOptions()
	opts.RegistrationOpensAt = "2026-02-01T00:00"
	opts.RegistrationDeadline = "2026-02-02T00:00"
	g, _ := mustCreate(t, env, opts)
	_, err := env.Engine.Claim(env.Ctx, g.ID, claimer)
	if code := faultCode(t, err); code != fault.CodeOutsideWindow {
		t.Fatalf("code = %s, want outside_registration_window", code)
	}
}

func TestClaimRestrictedGroup(t *testing.T) {
	env := newTestEnv(t)
	opts := baseOptions()
	opts.AssigneeIDs = []string{claimer.ID}
	g, _ := mustCreate(t, env, opts)

	_, err := env.Engine.Claim(env.Ctx, g.ID, claimer2)
	if code := faultCode(t, err); code != fault.CodeNotEligible {
		t.Fatalf("code = %s, want not_eligible", code)
	}
	if _, err := env.Engine.Claim(env.Ctx, g.ID, claimer); err != nil {
		t.Fatalf("listed assignee should claim: %v", err)
	}
	// Creator bypasses the restriction.
	if _, err := env.Engine.Claim(env.Ctx, g.ID, creator); err != nil {
		t.Fatalf("creator should claim: %v", err)
	}
}

func TestClaimNoFreeSlot(t *testing.T) {
	env := newTestEnv(t)
	opts := baseOptions()
	opts.Capacity = 1
	g, _ := mustCreate(t, env, opts)
	if _, err := env.Engine.Claim(env.Ctx, g.ID, claimer); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := env.Engine.Claim(env.Ctx, g.ID, claimer2)
	if code := faultCode(t, err); code != fault.CodeNoFreeSlot {
		t.Fatalf("code = %s, want no_free_slot", code)
	}
}

func TestConcurrentClaims(t *testing.T) {
	env := newTestEnv(t)
	g, _ := mustCreate(t, env, baseOptions())

	const callers = 4
	var wg sync.WaitGroup
	results := make([]domain.TaskSlot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := domain.Identity{ID: fmt.Sprintf("racer-%d", i)}
			results[i], errs[i] = env.Engine.Claim(env.Ctx, g.ID, actor)
		}(i)
	}
	wg.Wait()

	won := map[int]bool{}
	winners := 0
	for i := range results {
		if errs[i] == nil {
			winners++
			if won[results[i].ParticipantIndex] {
				t.Fatalf("participant index %d assigned twice", results[i].ParticipantIndex)
			}
			won[results[i].ParticipantIndex] = true
		} else if code := faultCode(t, errs[i]); code != fault.CodeNoFreeSlot {
			t.Fatalf("loser got code %s, want no_free_slot", code)
		}
	}
	if winners != 2 {
		t.Fatalf("winners = %d, want 2", winners)
	}
}

func proofConfigDescription(min int) *domain.ProofConfig {
	return &domain.ProofConfig{
		Description: &domain.DescriptionRequirement{Enabled: true, MinChars: min},
	}
}

func TestSubmitProofValidation(t *testing.T) {
	env := newTestEnv(t)
	opts := baseOptions()
	opts.ProofConfig = proofConfigDescription(20)
	g, _ := mustCreate(t, env, opts)
	slot, err := env.Engine.Claim(env.Ctx, g.ID, claimer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err = env.Engine.SubmitProof(env.Ctx, slot.ID, claimer, domain.ProofPayload{Description: "short text"})
	if code := faultCode(t, err); code != fault.CodeProofValidation {
		t.Fatalf("code = %s, want proof_validation_failed", code)
	}
	// Failed validation leaves the slot untouched.
	got, err := env.Engine.GetSlot(env.Ctx, slot.ID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if got.Status != domain.StatusClaimed || got.ProofJSON != nil {
		t.Fatalf("slot mutated by failed submit: %+v", got)
	}

	submitted, err := env.Engine.SubmitProof(env.Ctx, slot.ID, claimer, domain.ProofPayload{Description: "planted twenty oak saplings at the park"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != domain.StatusSubmitted || submitted.ProofJSON == nil || submitted.SubmittedAt == nil {
		t.Fatalf("submit result: %+v", submitted)
	}
}

func TestSubmitProofOnlyClaimer(t *testing.T) {
	env := newTestEnv(t)
	g, _ := mustCreate(t, env, baseOptions())
	slot, _ := env.Engine.Claim(env.Ctx, g.ID, claimer)
	_, err := env.Engine.SubmitProof(env.Ctx, slot.ID, claimer2, domain.ProofPayload{Description: "done"})
	if code := faultCode(t, err); code != fault.CodeNotClaimer {
		t.Fatalf("code = %s, want not_claimer", code)
	}
}

func submitted(t *testing.T, env testEnv, opts engine.GroupCreateOptions) domain.TaskSlot {
	t.Helper()
	g, _ := mustCreate(t, env, opts)
	slot, err := env.Engine.Claim(env.Ctx, g.ID, claimer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	slot, err = env.Engine.SubmitProof(env.Ctx, slot.ID, claimer, domain.ProofPayload{Description: "planted twenty oak saplings"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return slot
}

func TestApprove(t *testing.T) {
	env := newTestEnv(t)
	slot := submitted(t, env, baseOptions())

	_, err := env.Engine.Approve(env.Ctx, slot.ID, claimer, "")
	if code := faultCode(t, err); code != fault.CodeNotCreator {
		t.Fatalf("code = %s, want not_creator", code)
	}

	done, err := env.Engine.Approve(env.Ctx, slot.ID, creator, "nice work")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("approve result: %+v", done)
	}
	if done.RejectReason == nil || *done.RejectReason != "nice work" {
		t.Fatalf("reviewer comment not stored: %+v", done.RejectReason)
	}

	// Terminal: a second approve fails.
	_, err = env.Engine.Approve(env.Ctx, slot.ID, creator, "")
	if code := faultCode(t, err); code != fault.CodeWrongState {
		t.Fatalf("code = %s, want wrong_state", code)
	}
}

func TestRejectRequiresReasonAndOption(t *testing.T) {
	env := newTestEnv(t)
	slot := submitted(t, env, baseOptions())

	_, err := env.Engine.Reject(env.Ctx, slot.ID, creator, "  ", domain.RejectResubmit)
	if code := faultCode(t, err); code != fault.CodeMissingReason {
		t.Fatalf("code = %s, want missing_reason", code)
	}
	_, err = env.Engine.Reject(env.Ctx, slot.ID, creator, "bad photos", "banish")
	if code := faultCode(t, err); code != fault.CodeInvalidRejectOption {
		t.Fatalf("code = %s, want invalid_reject_option", code)
	}
}

func TestRejectResubmit(t *testing.T) {
	env := newTestEnv(t)
	slot := submitted(t, env, baseOptions())

	rejected, err := env.Engine.Reject(env.Ctx, slot.ID, creator, "photos too dark", domain.RejectResubmit)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.StatusUnsubmit || rejected.ProofJSON != nil {
		t.Fatalf("resubmit result: %+v", rejected)
	}
	if rejected.ClaimerID == nil || *rejected.ClaimerID != claimer.ID {
		t.Fatal("resubmit must keep the claimer")
	}

	// The claimer can submit again from unsubmit.
	again, err := env.Engine.SubmitProof(env.Ctx, slot.ID, claimer, domain.ProofPayload{Description: "retook the photos in daylight"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.Status != domain.StatusSubmitted {
		t.Fatalf("status = %s", again.Status)
	}
}

func TestRejectReclaim(t *testing.T) {
	env := newTestEnv(t)
	slot := submitted(t, env, baseOptions())

	freed, err := env.Engine.Reject(env.Ctx, slot.ID, creator, "wrong location", domain.RejectReclaim)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if freed.Status != domain.StatusUnclaimed || freed.ClaimerID != nil || freed.ProofJSON != nil {
		t.Fatalf("reclaim result: %+v", freed)
	}

	entries, err := env.Engine.SlotTimeline(env.Ctx, slot.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	// unclaimed, claimed, submitted, reclaim, unclaimed
	if len(entries) != 5 {
		t.Fatalf("timeline length = %d, want 5: %+v", len(entries), entries)
	}
	marker := entries[3]
	if marker.Status != domain.MarkerReclaim || marker.Reason == nil || *marker.Reason != "wrong location" {
		t.Fatalf("reclaim marker = %+v", marker)
	}
	last := entries[4]
	if last.Status != domain.StatusUnclaimed || last.ActorID != nil {
		t.Fatalf("trailing entry = %+v", last)
	}

	// The freed slot is claimable by someone else.
	if _, err := env.Engine.Claim(env.Ctx, slot.GroupID, claimer2); err != nil {
		t.Fatalf("reclaimed slot not claimable: %v", err)
	}
}

func TestRejectTerminal(t *testing.T) {
	env := newTestEnv(t)
	slot := submitted(t, env, baseOptions())

	final, err := env.Engine.Reject(env.Ctx, slot.ID, creator, "fabricated evidence", domain.RejectRejected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if final.Status != domain.StatusRejected {
		t.Fatalf("status = %s", final.Status)
	}
	_, err = env.Engine.SubmitProof(env.Ctx, slot.ID, claimer, domain.ProofPayload{Description: "let me try again please"})
	if code := faultCode(t, err); code != fault.CodeWrongState {
		t.Fatalf("code = %s, want wrong_state", code)
	}
}

func TestAcknowledgeTransfer(t *testing.T) {
	env := newTestEnv(t)
	slot := submitted(t, env, baseOptions())
	if _, err := env.Engine.Approve(env.Ctx, slot.ID, creator, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	acked, err := env.Engine.AcknowledgeTransfer(env.Ctx, slot.ID, creator, true)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if acked.TransferredAt == nil || acked.Status != domain.StatusCompleted {
		t.Fatalf("ack result: %+v", acked)
	}

	cleared, err := env.Engine.AcknowledgeTransfer(env.Ctx, slot.ID, creator, false)
	if err != nil {
		t.Fatalf("clear ack: %v", err)
	}
	if cleared.TransferredAt != nil {
		t.Fatalf("marker not cleared: %+v", cleared)
	}

	_, err = env.Engine.AcknowledgeTransfer(env.Ctx, slot.ID, claimer, true)
	if code := faultCode(t, err); code != fault.CodeNotCreator {
		t.Fatalf("code = %s, want not_creator", code)
	}
}

func TestApproveRequiresProof(t *testing.T) {
	env := newTestEnv(t)
	g, _ := mustCreate(t, env, baseOptions())
	slot, _ := env.Engine.Claim(env.Ctx, g.ID, claimer)
	// Still claimed, nothing submitted.
	_, err := env.Engine.Approve(env.Ctx, slot.ID, creator, "")
	if code := faultCode(t, err); code != fault.CodeWrongState {
		t.Fatalf("code = %s, want wrong_state", code)
	}
}

func TestGroupNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Claim(env.Ctx, "missing-group", claimer)
	if code := faultCode(t, err); code != fault.CodeGroupNotFound {
		t.Fatalf("code = %s, want group_not_found", code)
	}
	_, err = env.Engine.GetSlot(env.Ctx, "missing-slot")
	if code := faultCode(t, err); code != fault.CodeSlotNotFound {
		t.Fatalf("code = %s, want slot_not_found", code)
	}
}
