package auth

import (
	"context"
	"database/sql"

	"marketbot/internal/command"
	"marketbot/internal/domain"
	"marketbot/internal/repo"
)

// User-facing refusals. They are shown verbatim.
const (
	msgSellerOnly   = "Only the seller or a marketplace manager can do that."
	msgOwnListing   = "You can't do that on your own listing."
	msgSystemOnly   = "That action is reserved for the marketplace itself."
	msgNotAnonymous = "We couldn't tell who clicked that. Please try again."
)

// Service answers entitlement questions for one listing.
type Service struct {
	Repo repo.Repo
}

// IsManager reports whether actor holds one of the tenant's manager roles.
func (s Service) IsManager(ctx context.Context, tx *sql.Tx, tenantID string, actor command.Actor) (bool, error) {
	if len(actor.RoleIDs) == 0 {
		return false, nil
	}
	roles, err := s.Repo.ManagerRoles(ctx, tx, tenantID)
	if err != nil {
		return false, err
	}
	held := make(map[string]struct{}, len(actor.RoleIDs))
	for _, r := range actor.RoleIDs {
		held[r] = struct{}{}
	}
	for _, r := range roles {
		if _, ok := held[r]; ok {
			return true, nil
		}
	}
	return false, nil
}

// RequireSellerOrManager allows the listing's seller and the tenant's managers.
func (s Service) RequireSellerOrManager(ctx context.Context, tx *sql.Tx, l domain.Listing, actor command.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.ID == l.SellerID {
		return nil
	}
	ok, err := s.IsManager(ctx, tx, l.TenantID, actor)
	if err != nil {
		return err
	}
	if !ok {
		return command.Forbidden(msgSellerOnly)
	}
	return nil
}

// RequireParticipant allows anyone except the seller.
func (s Service) RequireParticipant(l domain.Listing, actor command.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.ID == l.SellerID {
		return command.Forbidden(msgOwnListing)
	}
	return nil
}

// RequireSystem allows only the scheduler's actor.
func (s Service) RequireSystem(actor command.Actor) error {
	if actor.ID != command.SystemActorID {
		return command.Forbidden(msgSystemOnly)
	}
	return nil
}

func requireActor(actor command.Actor) error {
	if actor.ID == "" || actor.ID == command.SystemActorID {
		return command.Forbidden(msgNotAnonymous)
	}
	return nil
}
