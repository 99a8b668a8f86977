package syncer

import (
	"log/slog"
	"time"
)

// Decision is the outcome of comparing a local and a remote version of the
// same record.
type Decision int

const (
	// KeepLocal discards the incoming remote version.
	KeepLocal Decision = iota
	// ApplyRemote replaces the local version with the remote one.
	ApplyRemote
	// Anomaly rejects the remote version and logs it; used when a remote
	// edit targets a finalized bill's financial fields.
	Anomaly
)

// LocalState is what the resolver knows about the locally stored version.
type LocalState struct {
	Exists        bool
	UpdatedAt     time.Time
	Deleted       bool
	PendingDelete bool // an unacknowledged local delete is still queued
	FinalizedBill bool
}

// Incoming is what the resolver knows about the remote version.
type Incoming struct {
	UpdatedAt time.Time
	Deleted   bool
	// FinancialChange marks a remote bill whose money fields differ from
	// the local finalized record.
	FinancialChange bool
}

// Resolver decides merge outcomes. Default rule is last-write-wins on
// updated_at; deletions and finalized bills carry extra rules.
type Resolver struct {
	logger *slog.Logger
}

// Resolve applies the merge rules:
//   - no local row: remote always applies (including tombstones, so the
//     deletion stays visible for the retention window);
//   - a local pending delete wins over an incoming non-deleted update until
//     the server acknowledges the delete;
//   - a remote tombstone wins over a non-deleted local row even at an equal
//     timestamp (hard-delete exception to LWW);
//   - a finalized local bill rejects remote financial changes as an anomaly;
//   - otherwise strict LWW: only a strictly newer remote timestamp applies.
func (r *Resolver) Resolve(local LocalState, incoming Incoming) Decision {
	if !local.Exists {
		return ApplyRemote
	}
	if local.PendingDelete && !incoming.Deleted {
		return KeepLocal
	}
	if incoming.Deleted && !local.Deleted {
		if incoming.UpdatedAt.Before(local.UpdatedAt) {
			return KeepLocal
		}
		return ApplyRemote
	}
	if local.FinalizedBill && incoming.FinancialChange && !incoming.Deleted {
		return Anomaly
	}
	if incoming.UpdatedAt.After(local.UpdatedAt) {
		return ApplyRemote
	}
	return KeepLocal
}
