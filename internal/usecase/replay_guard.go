package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"posed/internal/domain"
)

// ReplayGuard gives every cross-layer envelope an idempotent,
// monotonic acceptance test. State is two monotonically growing maps:
// the highest accepted nonce per channel and the set of replay keys
// ever accepted. Eviction is intentionally absent; envelopes are rare
// and a missed replay is expensive.
type ReplayGuard struct {
	mu                 sync.Mutex
	lastNonceByChannel map[string]uint64
	replayKeys         map[string]struct{}
	snapSeq            uint64

	// saveMu serializes snapshot writes; savedSeq is the newest
	// sequence that reached the store, so a deferred save that lost
	// the race never overwrites fresher state.
	saveMu   sync.Mutex
	savedSeq uint64

	store       SnapshotStore
	syncPersist bool
	log         *zap.Logger
}

type ReplayGuardConfig struct {
	// Store is optional; without it the guard is purely in-memory.
	Store SnapshotStore
	// SyncPersist makes Commit block on the snapshot write. Deferred
	// persistence opens a window where an accepted envelope could be
	// replayed after a crash-restart; disabling this is an explicit
	// trade of durability for commit latency.
	SyncPersist bool
	Logger      *zap.Logger
}

func NewReplayGuard(ctx context.Context, cfg ReplayGuardConfig) *ReplayGuard {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	g := &ReplayGuard{
		lastNonceByChannel: make(map[string]uint64),
		replayKeys:         make(map[string]struct{}),
		store:              cfg.Store,
		syncPersist:        cfg.SyncPersist,
		log:                log,
	}
	if g.store == nil {
		return g
	}

	snap, ok, err := g.store.Load(ctx)
	if err != nil {
		// Fail-open on read: replay protection restarts empty rather
		// than refusing to start the node.
		log.Warn("replay snapshot unreadable, starting empty", zap.Error(err))
		return g
	}
	if !ok {
		return g
	}
	if snap.Version != domain.ReplaySnapshotVersion {
		log.Warn("replay snapshot version mismatch, starting empty",
			zap.Int("version", snap.Version))
		return g
	}
	for _, wm := range snap.Channels {
		nonce, err := strconv.ParseUint(wm.Nonce, 10, 64)
		if err != nil {
			log.Warn("replay snapshot watermark unparseable, starting empty",
				zap.String("channel", wm.Channel), zap.Error(err))
			g.lastNonceByChannel = make(map[string]uint64)
			g.replayKeys = make(map[string]struct{})
			return g
		}
		g.lastNonceByChannel[wm.Channel] = nonce
	}
	for _, key := range snap.ReplayKeys {
		g.replayKeys[key] = struct{}{}
	}
	return g
}

// BuildReplayKey hashes the bit-exact envelope layout: be64(src) ||
// be64(dst) || channelId[32] || be64(nonce) || payloadHash[32]. The
// layout is a wire contract; replay keys must interoperate across
// nodes.
func BuildReplayKey(env domain.CrossLayerEnvelope) (string, error) {
	channel, err := env.ChannelID.Bytes()
	if err != nil {
		return "", fmt.Errorf("channel_id: %w", err)
	}
	payload, err := env.PayloadHash.Bytes()
	if err != nil {
		return "", fmt.Errorf("payload_hash: %w", err)
	}

	buf := make([]byte, 0, 8+8+32+8+32)
	buf = binary.BigEndian.AppendUint64(buf, env.SrcChainID)
	buf = binary.BigEndian.AppendUint64(buf, env.DstChainID)
	buf = append(buf, channel...)
	buf = binary.BigEndian.AppendUint64(buf, env.Nonce)
	buf = append(buf, payload...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// Validate judges the envelope without mutating state. The returned
// replay key is what a subsequent Commit must be handed.
func (g *ReplayGuard) Validate(ctx context.Context, env domain.CrossLayerEnvelope) (domain.ReplayCheck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked(env)
}

func (g *ReplayGuard) validateLocked(env domain.CrossLayerEnvelope) (domain.ReplayCheck, error) {
	if env.SrcChainID == env.DstChainID {
		return domain.ReplayCheck{OK: false, Reason: domain.ReasonInvalidRoute}, nil
	}

	if last, ok := g.lastNonceByChannel[env.ChannelKey()]; ok && env.Nonce <= last {
		return domain.ReplayCheck{OK: false, Reason: domain.ReasonNonceOutOfOrder}, nil
	}

	key, err := BuildReplayKey(env)
	if err != nil {
		return domain.ReplayCheck{}, err
	}
	if _, seen := g.replayKeys[key]; seen {
		return domain.ReplayCheck{OK: false, Reason: domain.ReasonReplayKeySeen}, nil
	}
	return domain.ReplayCheck{OK: true, ReplayKey: key}, nil
}

// Commit advances the channel watermark and records the replay key.
// It must follow a successful Validate for the same envelope; it does
// not re-validate. A failed snapshot write leaves in-memory protection
// intact and is surfaced through the logger only.
func (g *ReplayGuard) Commit(ctx context.Context, env domain.CrossLayerEnvelope, replayKey string) {
	g.mu.Lock()
	g.commitLocked(env, replayKey)
	snap, seq := g.snapshotLocked()
	g.mu.Unlock()
	g.persist(ctx, snap, seq)
}

// Accept runs the validate/commit pair under one critical section, so
// two concurrent presentations of the same envelope cannot both pass.
func (g *ReplayGuard) Accept(ctx context.Context, env domain.CrossLayerEnvelope) (domain.ReplayCheck, error) {
	g.mu.Lock()
	check, err := g.validateLocked(env)
	if err != nil || !check.OK {
		g.mu.Unlock()
		return check, err
	}
	g.commitLocked(env, check.ReplayKey)
	snap, seq := g.snapshotLocked()
	g.mu.Unlock()

	g.persist(ctx, snap, seq)
	return check, nil
}

func (g *ReplayGuard) commitLocked(env domain.CrossLayerEnvelope, replayKey string) {
	g.lastNonceByChannel[env.ChannelKey()] = env.Nonce
	g.replayKeys[replayKey] = struct{}{}
}

func (g *ReplayGuard) snapshotLocked() (domain.ReplaySnapshot, uint64) {
	snap := domain.ReplaySnapshot{
		Version:    domain.ReplaySnapshotVersion,
		Channels:   make([]domain.ChannelWatermark, 0, len(g.lastNonceByChannel)),
		ReplayKeys: make([]string, 0, len(g.replayKeys)),
	}
	for channel, nonce := range g.lastNonceByChannel {
		snap.Channels = append(snap.Channels, domain.ChannelWatermark{
			Channel: channel,
			Nonce:   strconv.FormatUint(nonce, 10),
		})
	}
	for key := range g.replayKeys {
		snap.ReplayKeys = append(snap.ReplayKeys, key)
	}
	g.snapSeq++
	return snap, g.snapSeq
}

func (g *ReplayGuard) persist(ctx context.Context, snap domain.ReplaySnapshot, seq uint64) {
	if g.store == nil {
		return
	}
	if !g.syncPersist {
		go g.save(context.Background(), snap, seq)
		return
	}
	g.save(ctx, snap, seq)
}

func (g *ReplayGuard) save(ctx context.Context, snap domain.ReplaySnapshot, seq uint64) {
	g.saveMu.Lock()
	defer g.saveMu.Unlock()
	if seq <= g.savedSeq {
		// A fresher snapshot already landed; writing this one would
		// roll the on-disk watermarks backwards.
		return
	}
	if err := g.store.Save(ctx, snap); err != nil {
		// Fail-open on write: in-memory protection is intact, only
		// durability for this commit is lost.
		g.log.Warn("replay snapshot write failed", zap.Error(err))
		return
	}
	g.savedSeq = seq
}
