package membership

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/domain"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"ana@email.com", true},
		{"carlos.lopez+lib@mail.example.org", true},
		{"ana@", false},
		{"@email.com", false},
		{"ana email.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, domain.ErrInvalidEmail))
		})
	}
}

func TestRegistryRegisterAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ana, err := r.Register("Ana", "ana@email.com", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ana.ID)
	assert.True(t, ana.PenaltyBalance.IsZero())
	assert.Empty(t, ana.HeldItems)

	_, err = r.Register("Ana", "ana@", now)
	assert.True(t, errors.Is(err, domain.ErrInvalidEmail))

	carlos, err := r.Register("Carlos", "carlos@email.com", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), carlos.ID, "failed registrations must not consume ids")
	assert.Equal(t, int64(3), r.NextID())
}

func TestRegistryHeldItemsAreCopies(t *testing.T) {
	r := NewRegistry()
	ana, err := r.Register("Ana", "ana@email.com", time.Now())
	require.NoError(t, err)
	require.NoError(t, r.RecordLoan(ana.ID, "9788497593798"))

	got, ok := r.Get(ana.ID)
	require.True(t, ok)
	got.HeldItems[0] = "tampered"
	got.HeldItems = append(got.HeldItems, "extra")

	again, _ := r.Get(ana.ID)
	assert.Equal(t, []string{"9788497593798"}, again.HeldItems)
}

func TestRegistryRecordLoanEnforcesLimits(t *testing.T) {
	r := NewRegistry()
	ana, _ := r.Register("Ana", "ana@email.com", time.Now())

	for _, isbn := range []string{"1111111111111", "2222222222222", "3333333333333"} {
		require.NoError(t, r.RecordLoan(ana.ID, isbn))
	}
	assert.False(t, r.IsEligible(ana.ID))

	err := r.RecordLoan(ana.ID, "4444444444444")
	assert.True(t, errors.Is(err, domain.ErrMemberOverLimit))
	got, _ := r.Get(ana.ID)
	assert.Len(t, got.HeldItems, MaxHeldItems)

	assert.True(t, errors.Is(r.RecordLoan(99, "1111111111111"), domain.ErrMemberNotFound))
	assert.False(t, r.IsEligible(99))
}

func TestRegistryPenaltyLimit(t *testing.T) {
	r := NewRegistry()
	ana, _ := r.Register("Ana", "ana@email.com", time.Now())

	require.NoError(t, r.AddPenalty(ana.ID, decimal.NewFromInt(4500)))
	assert.True(t, r.IsEligible(ana.ID))

	require.NoError(t, r.AddPenalty(ana.ID, decimal.NewFromInt(500)))
	assert.False(t, r.IsEligible(ana.ID), "a balance of exactly 5000 blocks new loans")
	assert.True(t, errors.Is(r.RecordLoan(ana.ID, "1111111111111"), domain.ErrMemberOverLimit))

	owing := r.WithOutstandingPenalty()
	require.Len(t, owing, 1)
	assert.True(t, owing[0].PenaltyBalance.Equal(decimal.NewFromInt(5000)))

	settled, err := r.SettlePenalties(ana.ID)
	require.NoError(t, err)
	assert.True(t, settled.Equal(decimal.NewFromInt(5000)))
	assert.True(t, r.IsEligible(ana.ID))
	assert.Empty(t, r.WithOutstandingPenalty())

	assert.True(t, domain.IsConsistencyFault(r.AddPenalty(ana.ID, decimal.NewFromInt(-1))))
}

func TestRegistryReleaseLoan(t *testing.T) {
	r := NewRegistry()
	ana, _ := r.Register("Ana", "ana@email.com", time.Now())
	require.NoError(t, r.RecordLoan(ana.ID, "1111111111111"))
	require.NoError(t, r.RecordLoan(ana.ID, "2222222222222"))

	require.NoError(t, r.ReleaseLoan(ana.ID, "1111111111111"))
	got, _ := r.Get(ana.ID)
	assert.Equal(t, []string{"2222222222222"}, got.HeldItems)

	err := r.ReleaseLoan(ana.ID, "1111111111111")
	assert.True(t, domain.IsConsistencyFault(err))
}

func TestRegistryAllOrderedByID(t *testing.T) {
	r := NewRegistry()
	for _, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		_, err := r.Register(email, email, time.Now())
		require.NoError(t, err)
	}

	all := r.All()
	require.Len(t, all, 3)
	for i, m := range all {
		assert.Equal(t, int64(i+1), m.ID)
	}
}

func TestRegistryRestore(t *testing.T) {
	r := NewRegistry()
	ana, err := r.Register("Ana", "ana@email.com", time.Now())
	require.NoError(t, err)
	require.NoError(t, r.RecordLoan(ana.ID, "9788497593798"))

	snapshot, _ := r.Get(ana.ID)
	assert.True(t, snapshot.Holds("9788497593798"))
	assert.False(t, snapshot.Holds("9788408268521"))

	require.NoError(t, r.ReleaseLoan(ana.ID, "9788497593798"))
	require.NoError(t, r.AddPenalty(ana.ID, decimal.NewFromInt(500)))
	r.Restore(snapshot)

	got, _ := r.Get(ana.ID)
	assert.Equal(t, []string{"9788497593798"}, got.HeldItems)
	assert.True(t, got.PenaltyBalance.IsZero())

	snapshot.HeldItems[0] = "changed"
	got, _ = r.Get(ana.ID)
	assert.Equal(t, "9788497593798", got.HeldItems[0], "restore keeps its own copy")

	r.Restore(Member{ID: 42})
	_, ok := r.Get(42)
	assert.False(t, ok)
}
