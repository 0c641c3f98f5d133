package domain

import "slices"

// SettlementStatus tracks the money side of a payment request.
type SettlementStatus string

const (
	SettlementPending     SettlementStatus = "PENDING"
	SettlementClaimedPaid SettlementStatus = "CLAIMED_PAID"
	SettlementPaid        SettlementStatus = "PAID"
	SettlementSettled     SettlementStatus = "SETTLED"
	SettlementRejected    SettlementStatus = "REJECTED"
	SettlementReissued    SettlementStatus = "REISSUED"
	SettlementCanceled    SettlementStatus = "CANCELED"
)

// IsValid reports whether s is a known settlement status.
func (s SettlementStatus) IsValid() bool {
	_, ok := settlementTransitions[s]
	return ok
}

type settlementEdge struct {
	from SettlementStatus
	to   SettlementStatus
}

var settlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementPending:     {SettlementClaimedPaid, SettlementCanceled, SettlementRejected},
	SettlementClaimedPaid: {SettlementPaid, SettlementRejected},
	SettlementPaid:        {SettlementSettled, SettlementRejected},
	SettlementSettled:     {SettlementReissued},
	SettlementRejected:    {SettlementReissued},
	SettlementReissued:    {},
	SettlementCanceled:    {},
}

var edgeActors = map[settlementEdge][]ActorKind{
	{SettlementPending, SettlementClaimedPaid}:  {ActorBuyer},
	{SettlementPending, SettlementCanceled}:     {ActorBuyer, ActorMerchant},
	{SettlementPending, SettlementRejected}:     {ActorMerchant, ActorSystem},
	{SettlementClaimedPaid, SettlementPaid}:     {ActorMerchant, ActorSystem},
	{SettlementClaimedPaid, SettlementRejected}: {ActorMerchant, ActorSystem},
	{SettlementPaid, SettlementSettled}:         {ActorMerchant, ActorSystem},
	{SettlementPaid, SettlementRejected}:        {ActorMerchant, ActorSystem},
	{SettlementSettled, SettlementReissued}:     {ActorMerchant},
	{SettlementRejected, SettlementReissued}:    {ActorMerchant},
}

// CanTransition reports whether target is reachable from current in one step.
func CanTransition(current, target SettlementStatus) bool {
	next, ok := settlementTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// ActorMayTransition reports whether actor is allowed to take the edge.
// It assumes CanTransition(current, target) already holds.
func ActorMayTransition(actor ActorKind, current, target SettlementStatus) bool {
	return slices.Contains(edgeActors[settlementEdge{current, target}], actor)
}

// BlockedAfterExpiry reports whether target cannot be entered once the
// payment request has expired.
func BlockedAfterExpiry(target SettlementStatus) bool {
	return target == SettlementClaimedPaid || target == SettlementCanceled
}
