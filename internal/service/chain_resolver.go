package service

import (
	"context"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// ResolvedRung is one level of a resolved approval chain. ApproverID is nil
// when the identity service could not name a concrete user for the role; the
// level is then acted on by whoever holds the role.
type ResolvedRung struct {
	Level        int
	ApproverRole string
	DepartmentID *string
	ApproverID   *string
}

// ChainResolver turns an approval type plus request attributes into the
// ordered chain of approvers that must sign off.
type ChainResolver struct {
	configs  ChainConfigStore
	identity IdentityClient
	log      *logger.Logger
}

// NewChainResolver creates a new ChainResolver.
func NewChainResolver(configs ChainConfigStore, identity IdentityClient, log *logger.Logger) *ChainResolver {
	return &ChainResolver{configs: configs, identity: identity, log: log}
}

// Resolve selects the applicable rungs for the approval type and quantity
// (amount in cents, hours, or day count, depending on the type), applies
// department precedence, and resolves a concrete approver per level.
//
// Selection rules:
//   - thresholds are inclusive and nil-open; a rung with thresholds is
//     skipped when the request carries no quantity at all
//   - a rung scoped to the request's department wins over a global rung at
//     the same sequence position
//   - levels are renumbered 1..n over the surviving rungs
//
// Returns ErrCodeConfiguration when no rung survives: the caller must not
// silently bypass approval.
func (r *ChainResolver) Resolve(
	ctx context.Context,
	approvalType repository.ApprovalType,
	quantity *int64,
	departmentID *string,
) ([]ResolvedRung, error) {
	rungs, err := r.configs.ListActiveByType(ctx, approvalType)
	if err != nil {
		return nil, err
	}

	// Pick one rung per sequence position, department-specific first.
	selected := make(map[int]*repository.ApprovalChainRung)
	var order []int
	for _, rung := range rungs {
		if !r.rungApplies(rung, quantity, departmentID) {
			continue
		}
		existing, ok := selected[rung.SequenceOrder]
		if !ok {
			selected[rung.SequenceOrder] = rung
			order = append(order, rung.SequenceOrder)
			continue
		}
		if existing.DepartmentID == nil && rung.DepartmentID != nil {
			selected[rung.SequenceOrder] = rung
		}
	}

	if len(order) == 0 {
		return nil, errors.Configuration(string(approvalType))
	}

	chain := make([]ResolvedRung, 0, len(order))
	for i, seq := range order {
		rung := selected[seq]
		resolved := ResolvedRung{
			Level:        i + 1,
			ApproverRole: rung.ApproverRole,
			DepartmentID: departmentID,
		}

		users, err := r.identity.GetUsersWithRole(ctx, rung.ApproverRole, departmentID)
		if err != nil {
			r.log.Warn().Err(err).
				Str("role", rung.ApproverRole).
				Str("approval_type", string(approvalType)).
				Msg("Could not fetch users for role; level will be unassigned")
		} else if len(users) > 0 {
			resolved.ApproverID = &users[0]
		}

		chain = append(chain, resolved)
	}
	return chain, nil
}

// ResolveApprover names a concrete user for a role, or nil when identity
// cannot provide one. Used when a request advances to a level whose snapshot
// was left unassigned.
func (r *ChainResolver) ResolveApprover(ctx context.Context, role string, departmentID *string) *string {
	users, err := r.identity.GetUsersWithRole(ctx, role, departmentID)
	if err != nil {
		r.log.Warn().Err(err).Str("role", role).Msg("Could not re-resolve approver for role")
		return nil
	}
	if len(users) == 0 {
		return nil
	}
	return &users[0]
}

func (r *ChainResolver) rungApplies(rung *repository.ApprovalChainRung, quantity *int64, departmentID *string) bool {
	if rung.MinThreshold != nil || rung.MaxThreshold != nil {
		if quantity == nil {
			return false
		}
		if rung.MinThreshold != nil && *quantity < *rung.MinThreshold {
			return false
		}
		if rung.MaxThreshold != nil && *quantity > *rung.MaxThreshold {
			return false
		}
	}

	if rung.DepartmentID != nil {
		if departmentID == nil || *rung.DepartmentID != *departmentID {
			return false
		}
	}
	return true
}
