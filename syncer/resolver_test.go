package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	older := base.Add(-time.Minute)
	newer := base.Add(time.Minute)

	tests := []struct {
		name     string
		local    LocalState
		incoming Incoming
		want     Decision
	}{
		{
			name:     "no local row applies remote",
			local:    LocalState{},
			incoming: Incoming{UpdatedAt: base},
			want:     ApplyRemote,
		},
		{
			name:     "no local row applies remote tombstone",
			local:    LocalState{},
			incoming: Incoming{UpdatedAt: base, Deleted: true},
			want:     ApplyRemote,
		},
		{
			name:     "newer remote wins",
			local:    LocalState{Exists: true, UpdatedAt: base},
			incoming: Incoming{UpdatedAt: newer},
			want:     ApplyRemote,
		},
		{
			name:     "older remote loses",
			local:    LocalState{Exists: true, UpdatedAt: base},
			incoming: Incoming{UpdatedAt: older},
			want:     KeepLocal,
		},
		{
			name:     "equal timestamps keep local",
			local:    LocalState{Exists: true, UpdatedAt: base},
			incoming: Incoming{UpdatedAt: base},
			want:     KeepLocal,
		},
		{
			name:     "remote tombstone wins at equal timestamp",
			local:    LocalState{Exists: true, UpdatedAt: base},
			incoming: Incoming{UpdatedAt: base, Deleted: true},
			want:     ApplyRemote,
		},
		{
			name:     "remote tombstone wins over newer is false when strictly older",
			local:    LocalState{Exists: true, UpdatedAt: base},
			incoming: Incoming{UpdatedAt: older, Deleted: true},
			want:     KeepLocal,
		},
		{
			name:     "pending local delete beats remote update",
			local:    LocalState{Exists: true, UpdatedAt: base, Deleted: true, PendingDelete: true},
			incoming: Incoming{UpdatedAt: newer},
			want:     KeepLocal,
		},
		{
			name:     "pending local delete yields to remote tombstone",
			local:    LocalState{Exists: true, UpdatedAt: base, Deleted: true, PendingDelete: true},
			incoming: Incoming{UpdatedAt: newer, Deleted: true},
			want:     ApplyRemote,
		},
		{
			name:     "finalized bill rejects remote financial change",
			local:    LocalState{Exists: true, UpdatedAt: base, FinalizedBill: true},
			incoming: Incoming{UpdatedAt: newer, FinancialChange: true},
			want:     Anomaly,
		},
		{
			name:     "finalized bill accepts non-financial newer remote",
			local:    LocalState{Exists: true, UpdatedAt: base, FinalizedBill: true},
			incoming: Incoming{UpdatedAt: newer},
			want:     ApplyRemote,
		},
		{
			name:     "finalized bill can still be voided remotely",
			local:    LocalState{Exists: true, UpdatedAt: base, FinalizedBill: true},
			incoming: Incoming{UpdatedAt: newer, Deleted: true, FinancialChange: true},
			want:     ApplyRemote,
		},
	}

	r := &Resolver{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, r.Resolve(tt.local, tt.incoming))
		})
	}
}
