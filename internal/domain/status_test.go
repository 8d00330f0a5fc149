package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from ReportStatus
		to   ReportStatus
		want bool
	}{
		{ReportPending, ReportProcessing, true},
		{ReportPending, ReportFailed, true},
		{ReportPending, ReportCompleted, false},
		{ReportProcessing, ReportCompleted, true},
		{ReportProcessing, ReportFailed, true},
		{ReportProcessing, ReportPending, false},
		{ReportCompleted, ReportFailed, false},
		{ReportCompleted, ReportProcessing, false},
		{ReportFailed, ReportCompleted, false},
		{ReportFailed, ReportPending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestReportStatus_Terminal(t *testing.T) {
	require.False(t, ReportPending.Terminal())
	require.False(t, ReportProcessing.Terminal())
	require.True(t, ReportCompleted.Terminal())
	require.True(t, ReportFailed.Terminal())
}

func TestTransaction_ChargedAmount(t *testing.T) {
	require.Equal(t, int64(3), (&Transaction{CreditDelta: -3}).ChargedAmount())
	require.Equal(t, int64(0), (&Transaction{CreditDelta: 5}).ChargedAmount())
}

func TestErrorHelpers(t *testing.T) {
	require.True(t, IsNotFound(fmt.Errorf("load: %w", ErrReportNotFound)))
	require.False(t, IsNotFound(ErrStorage))
	require.True(t, IsRetryable(fmt.Errorf("begin: %w", ErrStorage)))
	require.False(t, IsRetryable(ErrIdempotencyMismatch))
}
