// Package split allocates an integer amount of minor currency units across participants.
//
// Allocation is deterministic: every participant receives amount/n and the
// remainder is handed out one unit at a time to the participants whose IDs sort
// first lexicographically. The sum of the shares always equals the input amount.
package split

import (
	"fmt"
	"sort"

	"github.com/dvloznov/splitledger/internal/apperr"
)

// Type identifies how an expense is split.
type Type string

const (
	// TypeEqual splits across every eligible participant.
	TypeEqual Type = "EQUAL"
	// TypePartialEqual splits across a selected subset of eligible participants.
	TypePartialEqual Type = "PARTIAL_EQUAL"
)

// Valid reports whether t is a supported split type.
func (t Type) Valid() bool {
	return t == TypeEqual || t == TypePartialEqual
}

// Share is the amount owed by one participant.
type Share struct {
	ParticipantID string `json:"participantId"`
	Amount        int64  `json:"shareAmount"`
}

// Input carries everything a Strategy needs.
type Input struct {
	// Amount is the total in minor units.
	Amount int64
	// Eligible is the set of participant IDs allowed in the split (group members).
	Eligible map[string]struct{}
	// Selected is the explicit participant list used by partial splits.
	Selected []string
}

// Strategy computes participant shares for one split type.
type Strategy interface {
	Shares(in Input) ([]Share, error)
}

// EqualStrategy splits across every eligible participant.
type EqualStrategy struct{}

// Shares implements Strategy.
func (EqualStrategy) Shares(in Input) ([]Share, error) {
	if len(in.Eligible) == 0 {
		return nil, apperr.BadRequest("Group has no members for an EQUAL split.")
	}
	ids := make([]string, 0, len(in.Eligible))
	for id := range in.Eligible {
		ids = append(ids, id)
	}
	return Calculate(ids, in.Amount, in.Eligible)
}

// PartialEqualStrategy splits across the de-duplicated selected participants.
type PartialEqualStrategy struct{}

// Shares implements Strategy.
func (PartialEqualStrategy) Shares(in Input) ([]Share, error) {
	if len(in.Selected) == 0 {
		return nil, apperr.BadRequest("Involved participant IDs are required and cannot be empty for PARTIAL_EQUAL split.")
	}
	seen := make(map[string]struct{}, len(in.Selected))
	ids := make([]string, 0, len(in.Selected))
	for _, id := range in.Selected {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return Calculate(ids, in.Amount, in.Eligible)
}

var strategies = map[Type]Strategy{
	TypeEqual:        EqualStrategy{},
	TypePartialEqual: PartialEqualStrategy{},
}

// ForType returns the strategy registered for t.
func ForType(t Type) (Strategy, error) {
	s, ok := strategies[t]
	if !ok {
		return nil, apperr.BadRequest("Unsupported split type: %s", t)
	}
	return s, nil
}

// Calculate validates ids against eligible and allocates amount across them.
func Calculate(ids []string, amount int64, eligible map[string]struct{}) ([]Share, error) {
	if len(ids) == 0 {
		return nil, apperr.BadRequest("Cannot calculate shares for zero participants.")
	}
	if amount < 0 {
		return nil, apperr.BadRequest("Amount must not be negative, got %d", amount)
	}
	if eligible == nil {
		return nil, apperr.BadRequest("Group member IDs are required for participant validation.")
	}
	for _, id := range ids {
		if _, ok := eligible[id]; !ok {
			return nil, apperr.BadRequest("Participant with ID %s (selected for splitting) is not a member of the group.", id)
		}
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	n := int64(len(sorted))
	base := amount / n
	remainder := amount % n

	shares := make([]Share, len(sorted))
	for i, id := range sorted {
		share := base
		if int64(i) < remainder {
			share++
		}
		shares[i] = Share{ParticipantID: id, Amount: share}
	}

	if err := checkTotal(shares, amount); err != nil {
		return nil, err
	}
	return shares, nil
}

func checkTotal(shares []Share, amount int64) error {
	var total int64
	for _, s := range shares {
		total += s.Amount
	}
	if total != amount {
		return apperr.Wrap(apperr.KindInternal,
			fmt.Errorf("calculated %d, expected %d", total, amount),
			"Internal calculation error: Total share amount does not match the expense amount.")
	}
	return nil
}
