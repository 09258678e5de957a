package node

import (
	"errors"
	"fmt"
	"sync"

	"rubin.dev/node/chain"
	"rubin.dev/node/consensus"
	"rubin.dev/node/crypto"
)

const defaultIBDLagSeconds = 24 * 60 * 60

type SyncConfig struct {
	Network          string
	ChainStatePath   string
	HeaderBatchLimit uint64
	IBDLagSeconds    uint64
	ChainID          [32]byte
	Provider         crypto.CryptoProvider
	Hardforks        chain.HardforkSwitch
}

type HeaderRequest struct {
	FromHash [32]byte
	HasFrom  bool
	Limit    uint64
}

type SyncEngine struct {
	chainState      *ChainState
	blockStore      *BlockStore
	cfg             SyncConfig
	mu              sync.RWMutex
	tipTimestamp    uint64
	bestKnownHeight uint64
}

func DefaultSyncConfig(chainID [32]byte, chainStatePath string) SyncConfig {
	return SyncConfig{
		HeaderBatchLimit: 512,
		IBDLagSeconds:    defaultIBDLagSeconds,
		ChainID:          chainID,
		ChainStatePath:   chainStatePath,
		Provider:         crypto.DevStdCryptoProvider{},
		Hardforks:        chain.NoHardforks(),
	}
}

func NewSyncEngine(chainState *ChainState, blockStore *BlockStore, cfg SyncConfig) (*SyncEngine, error) {
	if chainState == nil {
		return nil, errors.New("nil chainstate")
	}
	if cfg.HeaderBatchLimit == 0 {
		cfg.HeaderBatchLimit = 512
	}
	if cfg.IBDLagSeconds == 0 {
		cfg.IBDLagSeconds = defaultIBDLagSeconds
	}
	if cfg.Provider == nil {
		cfg.Provider = crypto.DevStdCryptoProvider{}
	}
	engine := &SyncEngine{
		chainState: chainState,
		blockStore: blockStore,
		cfg:        cfg,
	}
	return engine, nil
}

func (s *SyncEngine) HeaderSyncRequest() HeaderRequest {
	if s == nil || s.chainState == nil {
		return HeaderRequest{}
	}
	if !s.chainState.HasTip {
		return HeaderRequest{
			HasFrom: false,
			Limit:   s.cfg.HeaderBatchLimit,
		}
	}
	return HeaderRequest{
		FromHash: s.chainState.TipHash,
		HasFrom:  true,
		Limit:    s.cfg.HeaderBatchLimit,
	}
}

func (s *SyncEngine) RecordBestKnownHeight(height uint64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if height > s.bestKnownHeight {
		s.bestKnownHeight = height
	}
}

func (s *SyncEngine) BestKnownHeight() uint64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bestKnownHeight
}

func (s *SyncEngine) IsInIBD(nowUnix uint64) bool {
	if s == nil || s.chainState == nil {
		return true
	}
	if !s.chainState.HasTip {
		return true
	}
	s.mu.RLock()
	tipTimestamp := s.tipTimestamp
	ibdLag := s.cfg.IBDLagSeconds
	s.mu.RUnlock()
	if nowUnix < tipTimestamp {
		return true
	}
	return nowUnix-tipTimestamp > ibdLag
}

func (s *SyncEngine) ApplyBlock(blockBytes []byte) (*ChainStateConnectSummary, error) {
	if s == nil || s.chainState == nil {
		return nil, errors.New("sync engine is not initialized")
	}
	pb, err := consensus.ParseBlockBytes(blockBytes)
	if err != nil {
		return nil, err
	}
	headerBytes := consensus.BlockHeaderBytes(pb.Header)

	snapshot, err := stateToDisk(s.chainState)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	oldTipTimestamp := s.tipTimestamp
	oldBestKnown := s.bestKnownHeight
	s.mu.RUnlock()

	summary, err := s.chainState.ConnectBlock(blockBytes, s.cfg.Provider, s.cfg.Hardforks, s.cfg.ChainID)
	if err != nil {
		return nil, err
	}
	rollback := func(cause error) error {
		restoreErr := restoreChainState(s.chainState, snapshot)
		s.mu.Lock()
		s.tipTimestamp = oldTipTimestamp
		s.bestKnownHeight = oldBestKnown
		s.mu.Unlock()
		if restoreErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", cause, restoreErr)
		}
		return cause
	}

	if s.blockStore != nil {
		if err := s.blockStore.PutBlock(summary.BlockHeight, summary.BlockHash, headerBytes, blockBytes); err != nil {
			return nil, rollback(err)
		}
	}
	if s.cfg.ChainStatePath != "" {
		if err := s.chainState.Save(s.cfg.ChainStatePath); err != nil {
			return nil, rollback(err)
		}
	}

	s.mu.Lock()
	s.tipTimestamp = pb.Header.Timestamp
	if summary.BlockHeight > s.bestKnownHeight {
		s.bestKnownHeight = summary.BlockHeight
	}
	s.mu.Unlock()
	return summary, nil
}

func restoreChainState(dst *ChainState, snapshot chainStateDisk) error {
	if dst == nil {
		return errors.New("nil chainstate destination")
	}
	recovered, err := chainStateFromDisk(snapshot)
	if err != nil {
		return err
	}
	*dst = *recovered
	return nil
}
