package app

import (
	"context"
	"fmt"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/rbac"
	"eurobansync/api/internal/util"
)

// AssignRole grants role to userID. Granting a role the user already holds
// is a no-op.
func (s *Service) AssignRole(ctx context.Context, principal rbac.Principal, userID, role string) (map[string]any, error) {
	normalized, ok := rbac.Normalize(trimmed(role))
	if !ok {
		return nil, apperr.Validation("unknown role").WithDetails(map[string]any{"role": role})
	}
	if !util.IsUUID(trimmed(userID)) {
		return nil, apperr.Validation("userId must be a UUID")
	}
	if !principal.Can(rbac.ActionManageRoles) {
		return nil, denied("manage roles")
	}
	userID = trimmed(userID)
	if err := s.store.AssignRole(ctx, userID, string(normalized)); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.log.Warn("principal cache invalidate failed", "user_id", userID, "error", err)
		}
	}
	s.log.Info("role assigned", "user_id", userID, "role", normalized, "by", principal.ID)
	return s.UserRoles(ctx, principal, userID)
}

// UserRoles lists the roles of userID. Users may read their own roles;
// reading anyone else's needs role management rights.
func (s *Service) UserRoles(ctx context.Context, principal rbac.Principal, userID string) (map[string]any, error) {
	if userID != principal.ID && !principal.Can(rbac.ActionManageRoles) {
		return nil, denied("read roles of other users")
	}
	raw, err := s.store.ListRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"userId": userID,
		"roles":  rbac.Strings(rbac.ParseRoles(raw)),
	}, nil
}

// SessionView describes the signed-in principal for the client.
func SessionView(p rbac.Principal) map[string]any {
	return map[string]any{
		"authenticated": true,
		"userId":        p.ID,
		"email":         p.Email,
		"fullName":      p.FullName,
		"roles":         rbac.Strings(p.Roles),
		"landing":       rbac.Landing(p),
	}
}
