package infra

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// PeerCred is the kernel-reported identity of a unix socket peer.
type PeerCred struct {
	PID int32
	UID int32
}

// ReadPeerCred reads SO_PEERCRED from a unix connection.
func ReadPeerCred(conn net.Conn) (PeerCred, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return PeerCred{}, fmt.Errorf("not a unix connection: %T", conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return PeerCred{}, fmt.Errorf("failed to get raw conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCred{}, fmt.Errorf("failed to control conn: %w", err)
	}
	if credErr != nil {
		return PeerCred{}, fmt.Errorf("failed to read peer credentials: %w", credErr)
	}
	return PeerCred{PID: cred.Pid, UID: int32(cred.Uid)}, nil
}

// IdentityConfig lists privileged uids.
type IdentityConfig struct {
	SystemUIDs         []int32
	CustomizeSaveUIDs  []int32
	RequireLiveProcess bool
}

// DefaultIdentityConfig trusts root only.
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		SystemUIDs:         []int32{0},
		RequireLiveProcess: true,
	}
}

// PeerIdentityResolver maps peer credentials to a caller.
// The access token is derived from the uid so every process of a user
// shares grants.
type PeerIdentityResolver struct {
	system      map[int32]bool
	customize   map[int32]bool
	requireLive bool
	procs       domain.ProcessManager
	logger      *zap.Logger
}

var _ domain.IdentityResolver = (*PeerIdentityResolver)(nil)

// NewPeerIdentityResolver creates a resolver.
func NewPeerIdentityResolver(config IdentityConfig, procs domain.ProcessManager, logger *zap.Logger) *PeerIdentityResolver {
	r := &PeerIdentityResolver{
		system:      make(map[int32]bool),
		customize:   make(map[int32]bool),
		requireLive: config.RequireLiveProcess,
		procs:       procs,
		logger:      logger,
	}
	for _, uid := range config.SystemUIDs {
		r.system[uid] = true
	}
	for _, uid := range config.CustomizeSaveUIDs {
		r.customize[uid] = true
	}
	return r
}

// TokenForUID derives the access token of a uid.
func TokenForUID(uid int32) uint32 {
	return uint32(uid) + 100000
}

// Resolve returns the caller for a peer.
func (r *PeerIdentityResolver) Resolve(ctx context.Context, pid, uid int32) (domain.CallerInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.CallerInfo{}, domain.Errorf(domain.ErrValueInvalid, "caller context done: %v", err)
	}
	if pid <= 0 || uid < 0 {
		return domain.CallerInfo{}, domain.Errorf(domain.ErrValueInvalid, "invalid peer pid %d uid %d", pid, uid)
	}

	if r.requireLive && r.procs != nil {
		if !r.procs.IsRunning(int(pid)) {
			return domain.CallerInfo{}, domain.Errorf(domain.ErrValueInvalid, "peer %d is not running", pid)
		}
		owner, err := r.procs.UID(int(pid))
		if err != nil {
			r.logger.Debug("uid lookup failed", zap.Int32("pid", pid), zap.Error(err))
			return domain.CallerInfo{}, domain.Errorf(domain.ErrValueInvalid, "peer %d unresolvable", pid)
		}
		if int32(owner) != uid {
			r.logger.Warn("peer uid mismatch",
				zap.Int32("pid", pid), zap.Int32("uid", uid), zap.Int("owner", owner))
			return domain.CallerInfo{}, domain.Errorf(domain.ErrValueInvalid, "peer %d uid mismatch", pid)
		}
	}

	return domain.CallerInfo{
		TokenID:             TokenForUID(uid),
		PID:                 pid,
		UID:                 uid,
		System:              r.system[uid],
		CustomizeSaveButton: r.customize[uid],
	}, nil
}
