package node

import (
	"context"
	"errors"
	"sort"
	"time"

	"rubin.dev/node/chain"
	"rubin.dev/node/consensus"
	"rubin.dev/node/crypto"
	"rubin.dev/node/vm"
)

type MinerConfig struct {
	Target          [32]byte
	TimestampSource func() uint64
	MaxTxPerBlock   int
	Provider        crypto.CryptoProvider
	Hardforks       chain.HardforkSwitch

	// RewardLock/RewardCode lock the coinbase output the miner pays itself.
	// RewardCode must hash (via chain.CellDataHash) to RewardLock.CodeHash,
	// and is registered into the chain state's code-cell registry so the
	// reward stays spendable by later blocks.
	RewardLock chain.Script
	RewardCode []byte
}

type MinedBlock struct {
	Height    uint64
	Hash      [32]byte
	Timestamp uint64
	Nonce     uint64
	TxCount   int
}

type Miner struct {
	chainState *ChainState
	blockStore *BlockStore
	sync       *SyncEngine
	cfg        MinerConfig
}

// DefaultMinerConfig returns a dev-only configuration whose reward lock is
// an always-succeed script, so mined coinbase outputs are trivially
// spendable without a real signing key (this miner exists only for
// local/devnet bring-up, not production block production).
func DefaultMinerConfig() MinerConfig {
	p := crypto.DevStdCryptoProvider{}
	code := vm.Assemble([]vm.Instruction{{Op: vm.OpHalt, Imm: 0}})
	hash := chain.CellDataHash(p, code)
	return MinerConfig{
		Target: consensus.POW_LIMIT,
		TimestampSource: func() uint64 {
			return uint64(time.Now().Unix())
		},
		MaxTxPerBlock: 1024,
		Provider:      p,
		Hardforks:     chain.NoHardforks(),
		RewardLock:    chain.Script{CodeHash: hash, HashType: chain.HashTypeData1},
		RewardCode:    code,
	}
}

// NewMiner constructs a dev-only miner used for local/devnet bring-up.
func NewMiner(chainState *ChainState, blockStore *BlockStore, sync *SyncEngine, cfg MinerConfig) (*Miner, error) {
	if chainState == nil {
		return nil, errors.New("nil chainstate")
	}
	if blockStore == nil {
		return nil, errors.New("nil blockstore")
	}
	if sync == nil {
		return nil, errors.New("nil sync engine")
	}
	if cfg.TimestampSource == nil {
		cfg.TimestampSource = func() uint64 { return uint64(time.Now().Unix()) }
	}
	if cfg.MaxTxPerBlock <= 0 {
		cfg.MaxTxPerBlock = 1024
	}
	if cfg.Provider == nil {
		cfg.Provider = crypto.DevStdCryptoProvider{}
	}
	return &Miner{
		chainState: chainState,
		blockStore: blockStore,
		sync:       sync,
		cfg:        cfg,
	}, nil
}

func (m *Miner) MineN(ctx context.Context, blocks int, txs [][]byte) ([]MinedBlock, error) {
	if blocks < 0 {
		return nil, errors.New("blocks must be >= 0")
	}
	out := make([]MinedBlock, 0, blocks)
	for i := 0; i < blocks; i++ {
		mb, err := m.MineOne(ctx, txs)
		if err != nil {
			return nil, err
		}
		out = append(out, *mb)
	}
	return out, nil
}

func (m *Miner) MineOne(ctx context.Context, txs [][]byte) (*MinedBlock, error) {
	if m == nil || m.chainState == nil || m.blockStore == nil || m.sync == nil {
		return nil, errors.New("miner is not initialized")
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	nextHeight, err := nextBlockHeight(m.chainState)
	if err != nil {
		return nil, err
	}
	var prevHash [32]byte
	if m.chainState.HasTip {
		prevHash = m.chainState.TipHash
	}

	if m.chainState.CodeByHash == nil {
		m.chainState.CodeByHash = make(map[[32]byte][]byte)
	}
	m.chainState.CodeByHash[m.cfg.RewardLock.CodeHash] = append([]byte(nil), m.cfg.RewardCode...)

	maxTx := len(txs)
	if maxTx > m.cfg.MaxTxPerBlock {
		maxTx = m.cfg.MaxTxPerBlock
	}
	selectedTxs := txs[:maxTx]

	parsed := make([]*consensus.Tx, 0, len(selectedTxs))
	var totalFees uint64
	for _, raw := range selectedTxs {
		tx, err := consensus.ParseTxBytes(raw)
		if err != nil {
			return nil, err
		}
		fee, err := m.txFee(tx)
		if err != nil {
			return nil, err
		}
		totalFees += fee
		parsed = append(parsed, tx)
	}

	subsidy := consensus.BlockSubsidy(nextHeight, m.chainState.AlreadyGenerated)
	if nextHeight == 0 {
		subsidy = 0
	}
	coinbase := &consensus.Tx{
		Version:  consensus.TX_VERSION_V2,
		Locktime: nextHeight,
		Inputs: []consensus.TxInput{
			{PrevTxid: [32]byte{}, PrevVout: consensus.TX_COINBASE_PREVOUT_VOUT, Sequence: consensus.TX_COINBASE_PREVOUT_VOUT},
		},
		Outputs: []consensus.TxOutput{{Value: subsidy + totalFees, Lock: m.cfg.RewardLock}},
	}

	allTxs := make([]*consensus.Tx, 0, 1+len(parsed))
	allTxs = append(allTxs, coinbase)
	allTxs = append(allTxs, parsed...)

	merkleRoot, err := merkleRootOf(m.cfg.Provider, allTxs)
	if err != nil {
		return nil, err
	}

	prevTimestamps := ancestorTimestamps(m.chainState.AncestorHeaders)
	now := m.cfg.TimestampSource()
	timestamp := chooseValidTimestamp(nextHeight, prevTimestamps, now)

	header := consensus.BlockHeader{
		Version:       1,
		PrevBlockHash: prevHash,
		MerkleRoot:    merkleRoot,
		Timestamp:     timestamp,
		Target:        m.cfg.Target,
	}
	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		if err := consensus.PowCheck(consensus.BlockHeaderBytes(header), m.cfg.Target); err == nil {
			break
		}
		header.Nonce++
	}

	transactions := make([]consensus.Tx, len(allTxs))
	for i, tx := range allTxs {
		transactions[i] = *tx
	}
	block := &consensus.Block{Header: header, Transactions: transactions}
	blockBytes := consensus.BlockBytes(block)

	summary, err := m.sync.ApplyBlock(blockBytes)
	if err != nil {
		return nil, err
	}
	return &MinedBlock{
		Height:    summary.BlockHeight,
		Hash:      summary.BlockHash,
		Timestamp: timestamp,
		Nonce:     header.Nonce,
		TxCount:   len(allTxs),
	}, nil
}

// txFee looks up each input's prevout value in the current UTXO set to
// compute the fee the coinbase may additionally claim; it does not validate
// the transaction (ApplyBlock does that once the block is assembled).
func (m *Miner) txFee(tx *consensus.Tx) (uint64, error) {
	var inputSum, outputSum uint64
	for _, in := range tx.Inputs {
		entry, ok := m.chainState.Utxos[consensus.TxOutPoint{TxID: in.PrevTxid, Vout: in.PrevVout}]
		if !ok {
			return 0, errors.New("miner: missing prevout for fee estimation")
		}
		inputSum += entry.Output.Value
	}
	for _, out := range tx.Outputs {
		outputSum += out.Value
	}
	if inputSum < outputSum {
		return 0, errors.New("miner: transaction spends more than it receives")
	}
	return inputSum - outputSum, nil
}

func merkleRootOf(p crypto.CryptoProvider, txs []*consensus.Tx) ([32]byte, error) {
	txids := make([][32]byte, len(txs))
	for i, tx := range txs {
		txids[i] = consensus.TxID(p, tx)
	}
	return consensus.MerkleRootTxids(txids)
}

// ancestorTimestamps returns up to the last 11 ancestor timestamps, newest
// first, matching medianPastTimestamp's window.
func ancestorTimestamps(headers []consensus.BlockHeader) []uint64 {
	k := 11
	if len(headers) < k {
		k = len(headers)
	}
	out := make([]uint64, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, headers[len(headers)-1-i].Timestamp)
	}
	return out
}

func chooseValidTimestamp(nextHeight uint64, prevTimestamps []uint64, now uint64) uint64 {
	if nextHeight == 0 || len(prevTimestamps) == 0 {
		if now == 0 {
			return 1
		}
		return now
	}
	median := mtpMedian(prevTimestamps)
	if now > median && now <= median+consensus.MAX_FUTURE_DRIFT {
		return now
	}
	return median + 1
}

func mtpMedian(prevTimestamps []uint64) uint64 {
	if len(prevTimestamps) == 0 {
		return 0
	}
	window := append([]uint64(nil), prevTimestamps...)
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	return window[(len(window)-1)/2]
}
