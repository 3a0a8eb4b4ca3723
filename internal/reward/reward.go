// Package reward computes per-slot reward amounts from a group's total.
package reward

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"rewardline/internal/domain"
)

// ErrInvalidDistribution marks an unusable mode/weight combination.
var ErrInvalidDistribution = errors.New("invalid distribution")

// Weight assigns a coefficient to one participant index.
type Weight struct {
	ParticipantIndex int
	Value            float64
}

// Split returns the reward for each participant index (1..capacity), rounded
// to 2 decimal places. In equal mode every slot gets total/capacity; in
// weighted mode slot i gets total*w_i/sum(w). The remainder left by rounding
// is not redistributed; callers accept the bounded drift.
func Split(total decimal.Decimal, capacity int, mode string, weights []Weight) ([]decimal.Decimal, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be >= 1", ErrInvalidDistribution)
	}
	if total.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total reward must be positive", ErrInvalidDistribution)
	}
	switch mode {
	case domain.DistributionEqual:
		per := total.Div(decimal.NewFromInt(int64(capacity))).Round(2)
		out := make([]decimal.Decimal, capacity)
		for i := range out {
			out[i] = per
		}
		return out, nil
	case domain.DistributionWeighted:
		coeffs, err := normalizeWeights(capacity, weights)
		if err != nil {
			return nil, err
		}
		sum := decimal.Zero
		for _, w := range coeffs {
			sum = sum.Add(w)
		}
		out := make([]decimal.Decimal, capacity)
		for i, w := range coeffs {
			out[i] = total.Mul(w).Div(sum).Round(2)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidDistribution, mode)
	}
}

// Coefficients returns the weight per participant index in slot order,
// defaulting every slot to 1.0 under equal mode.
func Coefficients(capacity int, mode string, weights []Weight) ([]float64, error) {
	if mode != domain.DistributionWeighted {
		out := make([]float64, capacity)
		for i := range out {
			out[i] = 1.0
		}
		return out, nil
	}
	coeffs, err := normalizeWeights(capacity, weights)
	if err != nil {
		return nil, err
	}
	out := make([]float64, capacity)
	for i, w := range coeffs {
		out[i], _ = w.Float64()
	}
	return out, nil
}

func normalizeWeights(capacity int, weights []Weight) ([]decimal.Decimal, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: weighted mode requires weights", ErrInvalidDistribution)
	}
	if len(weights) != capacity {
		return nil, fmt.Errorf("%w: got %d weights for capacity %d", ErrInvalidDistribution, len(weights), capacity)
	}
	out := make([]decimal.Decimal, capacity)
	seen := make([]bool, capacity)
	for _, w := range weights {
		if w.ParticipantIndex < 1 || w.ParticipantIndex > capacity {
			return nil, fmt.Errorf("%w: participant index %d out of range", ErrInvalidDistribution, w.ParticipantIndex)
		}
		if seen[w.ParticipantIndex-1] {
			return nil, fmt.Errorf("%w: duplicate weight for participant %d", ErrInvalidDistribution, w.ParticipantIndex)
		}
		if w.Value <= 0 {
			return nil, fmt.Errorf("%w: weight for participant %d must be > 0", ErrInvalidDistribution, w.ParticipantIndex)
		}
		seen[w.ParticipantIndex-1] = true
		out[w.ParticipantIndex-1] = decimal.NewFromFloat(w.Value)
	}
	return out, nil
}
