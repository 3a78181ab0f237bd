package state

import "errors"

var (
	// ErrSettlementInProgress rejects a re-entrant epoch trigger. Safe to
	// retry on the next tick.
	ErrSettlementInProgress = errors.New("settlement already in progress")

	// ErrInsufficientPool rejects a whole period's UBI distribution when
	// aggregate claims exceed the pool. Surfaced for operator remediation
	// rather than prorating, which would break the floor guarantee.
	ErrInsufficientPool = errors.New("aggregate ubi claims exceed available pool")

	// ErrStaleParams rejects a governance override with a non-increasing version.
	ErrStaleParams = errors.New("stale params version")

	// ErrUnknownFlow means a remediation referenced a flow id that does not
	// exist on the named record.
	ErrUnknownFlow = errors.New("flow not found on record")

	// ErrFlowRetired means a remediation referenced a flow whose quantity is
	// already fully retired.
	ErrFlowRetired = errors.New("flow already fully retired")

	// ErrCompoundMismatch means a remediation paired flows of different compounds.
	ErrCompoundMismatch = errors.New("remediation flows are different compounds")

	// ErrWrongDirection means a remediation leg has the wrong sign for its role.
	ErrWrongDirection = errors.New("flow direction does not match remediation role")
)
