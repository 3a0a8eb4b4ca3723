package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"rewardline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const groupColumns = `id,title,description,activity_id,registration_opens_at,registration_deadline,submit_deadline,capacity,distribution_mode,total_reward,currency,proof_config_json,submission_instructions,creator_id,assignee_ids_json,created_at,updated_at`

const slotColumns = `id,group_id,claimer_id,claimer_name,reward,currency,weight,participant_index,status,proof_json,reject_reason,reject_option,discount,discount_reason,created_at,updated_at,claimed_at,submitted_at,completed_at,transferred_at`

func (r Repo) InsertGroupTx(ctx context.Context, tx *sql.Tx, g domain.TaskGroup) error {
	proofJSON, err := marshalProofConfig(g.ProofConfig)
	if err != nil {
		return err
	}
	assigneesJSON, err := marshalStringSlice(g.AssigneeIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO task_groups(`+groupColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Title, nullable(g.Description), g.ActivityID, g.RegistrationOpensAt, g.RegistrationDeadline,
		nullableStringPtr(g.SubmitDeadline), g.Capacity, g.DistributionMode, g.TotalReward.String(), g.Currency,
		proofJSON, nullable(g.SubmissionInstructions), g.CreatorID, assigneesJSON, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r Repo) GetGroup(ctx context.Context, id string) (domain.TaskGroup, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM task_groups WHERE id=?`, id)
	return scanGroup(row)
}

func (r Repo) ListGroups(ctx context.Context) ([]domain.TaskGroup, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+groupColumns+` FROM task_groups ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) InsertSlotTx(ctx context.Context, tx *sql.Tx, s domain.TaskSlot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_slots(`+slotColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.GroupID, nullableStringPtr(s.ClaimerID), nullableStringPtr(s.ClaimerName), s.Reward.String(), s.Currency,
		s.Weight, s.ParticipantIndex, s.Status, nullableStringPtr(s.ProofJSON), nullableStringPtr(s.RejectReason),
		nullableStringPtr(s.RejectOption), nullableStringPtr(s.Discount), nullableStringPtr(s.DiscountReason),
		s.CreatedAt, s.UpdatedAt, nullableStringPtr(s.ClaimedAt), nullableStringPtr(s.SubmittedAt),
		nullableStringPtr(s.CompletedAt), nullableStringPtr(s.TransferredAt))
	return err
}

func (r Repo) GetSlot(ctx context.Context, id string) (domain.TaskSlot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM task_slots WHERE id=?`, id)
	return scanSlot(row)
}

// ListGroupSlots returns a group's slots ordered by participant index.
func (r Repo) ListGroupSlots(ctx context.Context, groupID string) ([]domain.TaskSlot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM task_slots WHERE group_id=? ORDER BY participant_index ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// HasClaimInGroup reports whether the claimer already holds any sibling slot.
func (r Repo) HasClaimInGroup(ctx context.Context, groupID, claimerID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM task_slots WHERE group_id=? AND claimer_id=? LIMIT 1`, groupID, claimerID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LowestFreeSlot returns the free slot with the smallest participant index.
func (r Repo) LowestFreeSlot(ctx context.Context, groupID string) (domain.TaskSlot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM task_slots
WHERE group_id=? AND claimer_id IS NULL AND status=? ORDER BY participant_index ASC LIMIT 1`, groupID, domain.StatusUnclaimed)
	return scanSlot(row)
}

// ClaimSlot performs the conditional "claim if still free" write. It reports
// whether this caller won the slot; losing means another claim landed first
// and the allocator should re-read and retry.
func (r Repo) ClaimSlot(ctx context.Context, slotID, claimerID, claimerName, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_slots
SET claimer_id=?, claimer_name=?, status=?, claimed_at=?, updated_at=?
WHERE id=? AND claimer_id IS NULL AND status=?`,
		claimerID, nullable(claimerName), domain.StatusClaimed, now, now, slotID, domain.StatusUnclaimed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SubmitProof stores the serialized payload if the slot is still held by the
// claimer in a submittable state.
func (r Repo) SubmitProof(ctx context.Context, slotID, claimerID, proofJSON, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_slots
SET proof_json=?, status=?, submitted_at=?, updated_at=?
WHERE id=? AND claimer_id=? AND status IN (?,?)`,
		proofJSON, domain.StatusSubmitted, now, now, slotID, claimerID, domain.StatusClaimed, domain.StatusUnsubmit)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompleteSlot approves a submitted slot. The reviewer comment lands in
// reject_reason, which doubles as the latest reviewer note.
func (r Repo) CompleteSlot(ctx context.Context, slotID, comment, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_slots
SET status=?, completed_at=?, reject_reason=?, reject_option=NULL, updated_at=?
WHERE id=? AND status=? AND proof_json IS NOT NULL`,
		domain.StatusCompleted, now, nullable(comment), now, slotID, domain.StatusSubmitted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RejectForResubmit clears the proof but keeps the claim.
func (r Repo) RejectForResubmit(ctx context.Context, slotID, reason, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_slots
SET status=?, proof_json=NULL, submitted_at=NULL, reject_reason=?, reject_option=?, updated_at=?
WHERE id=? AND status=?`,
		domain.StatusUnsubmit, reason, domain.RejectResubmit, now, slotID, domain.StatusSubmitted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RejectForReclaim releases the slot entirely so another user can claim it.
func (r Repo) RejectForReclaim(ctx context.Context, slotID, reason, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_slots
SET status=?, claimer_id=NULL, claimer_name=NULL, proof_json=NULL, claimed_at=NULL, submitted_at=NULL,
    reject_reason=?, reject_option=?, updated_at=?
WHERE id=? AND status=?`,
		domain.StatusUnclaimed, reason, domain.RejectReclaim, now, slotID, domain.StatusSubmitted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RejectTerminal marks the slot rejected for good.
func (r Repo) RejectTerminal(ctx context.Context, slotID, reason, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_slots
SET status=?, reject_reason=?, reject_option=?, updated_at=?
WHERE id=? AND status=?`,
		domain.StatusRejected, reason, domain.RejectRejected, now, slotID, domain.StatusSubmitted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetTransferAck sets or clears the transfer-acknowledged timestamp on a
// completed slot without touching its lifecycle status.
func (r Repo) SetTransferAck(ctx context.Context, slotID string, transferredAt *string, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_slots
SET transferred_at=?, updated_at=?
WHERE id=? AND status=?`,
		nullableStringPtr(transferredAt), now, slotID, domain.StatusCompleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (domain.TaskGroup, error) {
	var g domain.TaskGroup
	var description, submitDeadline, proofConfig, instructions, assignees sql.NullString
	var totalReward string
	err := row.Scan(&g.ID, &g.Title, &description, &g.ActivityID, &g.RegistrationOpensAt, &g.RegistrationDeadline,
		&submitDeadline, &g.Capacity, &g.DistributionMode, &totalReward, &g.Currency, &proofConfig,
		&instructions, &g.CreatorID, &assignees, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.TotalReward, err = decimal.NewFromString(totalReward)
	if err != nil {
		return g, err
	}
	if description.Valid {
		g.Description = description.String
	}
	if submitDeadline.Valid {
		g.SubmitDeadline = &submitDeadline.String
	}
	if instructions.Valid {
		g.SubmissionInstructions = instructions.String
	}
	if proofConfig.Valid && proofConfig.String != "" {
		var cfg domain.ProofConfig
		if err := json.Unmarshal([]byte(proofConfig.String), &cfg); err != nil {
			return g, err
		}
		g.ProofConfig = &cfg
	}
	if assignees.Valid && assignees.String != "" {
		if err := json.Unmarshal([]byte(assignees.String), &g.AssigneeIDs); err != nil {
			return g, err
		}
	}
	return g, nil
}

func scanSlot(row rowScanner) (domain.TaskSlot, error) {
	var s domain.TaskSlot
	var claimerID, claimerName, proofJSON, rejectReason, rejectOption, discount, discountReason sql.NullString
	var claimedAt, submittedAt, completedAt, transferredAt sql.NullString
	var reward string
	err := row.Scan(&s.ID, &s.GroupID, &claimerID, &claimerName, &reward, &s.Currency, &s.Weight,
		&s.ParticipantIndex, &s.Status, &proofJSON, &rejectReason, &rejectOption, &discount, &discountReason,
		&s.CreatedAt, &s.UpdatedAt, &claimedAt, &submittedAt, &completedAt, &transferredAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Reward, err = decimal.NewFromString(reward)
	if err != nil {
		return s, err
	}
	if claimerID.Valid {
		s.ClaimerID = &claimerID.String
	}
	if claimerName.Valid {
		s.ClaimerName = &claimerName.String
	}
	if proofJSON.Valid {
		s.ProofJSON = &proofJSON.String
	}
	if rejectReason.Valid {
		s.RejectReason = &rejectReason.String
	}
	if rejectOption.Valid {
		s.RejectOption = &rejectOption.String
	}
	if discount.Valid {
		s.Discount = &discount.String
	}
	if discountReason.Valid {
		s.DiscountReason = &discountReason.String
	}
	if claimedAt.Valid {
		s.ClaimedAt = &claimedAt.String
	}
	if submittedAt.Valid {
		s.SubmittedAt = &submittedAt.String
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	if transferredAt.Valid {
		s.TransferredAt = &transferredAt.String
	}
	return s, nil
}

func marshalProofConfig(cfg *domain.ProofConfig) (any, error) {
	if cfg == nil {
		return nil, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalStringSlice(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
