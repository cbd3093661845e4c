package infra

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// MemoryPermissionKit implements domain.PermissionKit as an in-process
// token store. Other services query it through VerifyPermission.
type MemoryPermissionKit struct {
	mu      sync.RWMutex
	granted map[uint32]map[string]struct{}
	dlp     map[uint32]struct{}
	logger  *zap.Logger
}

// NewMemoryPermissionKit creates a store. Tokens in dlpTokens are treated as
// data-loss-prevention sandboxes.
func NewMemoryPermissionKit(dlpTokens []uint32, logger *zap.Logger) *MemoryPermissionKit {
	dlp := make(map[uint32]struct{}, len(dlpTokens))
	for _, t := range dlpTokens {
		dlp[t] = struct{}{}
	}
	return &MemoryPermissionKit{
		granted: make(map[uint32]map[string]struct{}),
		dlp:     dlp,
		logger:  logger,
	}
}

// GrantPermission grants a named permission to a token.
func (k *MemoryPermissionKit) GrantPermission(tokenID uint32, permission string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	perms := k.granted[tokenID]
	if perms == nil {
		perms = make(map[string]struct{})
		k.granted[tokenID] = perms
	}
	perms[permission] = struct{}{}
	k.logger.Debug("permission granted", zap.Uint32("token_id", tokenID), zap.String("permission", permission))
	return nil
}

// RevokePermission revokes a named permission. Unknown grants are ignored.
func (k *MemoryPermissionKit) RevokePermission(tokenID uint32, permission string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	perms := k.granted[tokenID]
	if _, ok := perms[permission]; !ok {
		return nil
	}
	delete(perms, permission)
	if len(perms) == 0 {
		delete(k.granted, tokenID)
	}
	k.logger.Debug("permission revoked", zap.Uint32("token_id", tokenID), zap.String("permission", permission))
	return nil
}

// VerifyPermission reports whether the token holds the permission.
func (k *MemoryPermissionKit) VerifyPermission(tokenID uint32, permission string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.granted[tokenID][permission]
	return ok
}

// IsDLPSandbox reports whether the token is a DLP sandbox.
func (k *MemoryPermissionKit) IsDLPSandbox(tokenID uint32) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.dlp[tokenID]
	return ok
}

// Granted lists the permissions a token holds, sorted.
func (k *MemoryPermissionKit) Granted(tokenID uint32) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]string, 0, len(k.granted[tokenID]))
	for p := range k.granted[tokenID] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Ensure MemoryPermissionKit implements domain.PermissionKit.
var _ domain.PermissionKit = (*MemoryPermissionKit)(nil)
