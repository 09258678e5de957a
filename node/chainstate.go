package node

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rubin.dev/node/chain"
	"rubin.dev/node/consensus"
	"rubin.dev/node/crypto"
)

const (
	chainStateDiskVersion = 2
	chainStateFileName    = "chainstate.json"
)

// maxAncestorHeaders bounds how many recent headers ChainState keeps in
// memory for median-time-past and retarget-window checks; WINDOW_SIZE is
// the deepest lookback ApplyBlock ever needs.
const maxAncestorHeaders = consensus.WINDOW_SIZE

// ChainState is the node's view of chain tip, UTXO set, and the code-cell
// registry ApplyBlock/ApplyTx resolve lock and type scripts against in
// place of full cell-dependency resolution (see chain/ for the real
// resolver used by script verification proper; ChainState's CodeByHash is a
// flat stand-in keyed purely by content hash, so it cannot model
// HashTypeType lookups, which key on a code cell's *type* script hash
// rather than its data hash).
type ChainState struct {
	HasTip           bool
	Height           uint64
	TipHash          [32]byte
	AlreadyGenerated uint64
	Utxos            map[consensus.TxOutPoint]consensus.UtxoEntry
	CodeByHash       map[[32]byte][]byte
	AncestorHeaders  []consensus.BlockHeader
}

type ChainStateConnectSummary struct {
	BlockHeight uint64
	BlockHash   [32]byte
	UtxoCount   uint64
}

type chainStateDisk struct {
	Version          uint32          `json:"version"`
	HasTip           bool            `json:"has_tip"`
	Height           uint64          `json:"height"`
	TipHash          string          `json:"tip_hash"`
	AlreadyGenerated uint64          `json:"already_generated"`
	Utxos            []utxoDiskEntry `json:"utxos"`
	Code             []codeDiskEntry `json:"code"`
	AncestorHeaders  []string        `json:"ancestor_headers"`
}

type utxoDiskEntry struct {
	Txid              string `json:"txid"`
	Vout              uint32 `json:"vout"`
	Value             uint64 `json:"value"`
	Lock              string `json:"lock"`
	Type              string `json:"type,omitempty"`
	Data              string `json:"data,omitempty"`
	CreationHeight    uint64 `json:"creation_height"`
	CreatedByCoinbase bool   `json:"created_by_coinbase"`
}

type codeDiskEntry struct {
	Hash string `json:"hash"`
	Code string `json:"code"`
}

func NewChainState() *ChainState {
	return &ChainState{
		Utxos:      make(map[consensus.TxOutPoint]consensus.UtxoEntry),
		CodeByHash: make(map[[32]byte][]byte),
	}
}

func ChainStatePath(dataDir string) string {
	return filepath.Join(dataDir, chainStateFileName)
}

func LoadChainState(path string) (*ChainState, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewChainState(), nil
	}
	if err != nil {
		return nil, err
	}
	var disk chainStateDisk
	if err := json.Unmarshal(raw, &disk); err != nil {
		return nil, fmt.Errorf("decode chainstate: %w", err)
	}
	return chainStateFromDisk(disk)
}

func (s *ChainState) Save(path string) error {
	if s == nil {
		return errors.New("nil chainstate")
	}
	disk, err := stateToDisk(s)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chainstate: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return writeFileAtomic(path, raw, 0o600)
}

// ConnectBlock validates blockBytes against the current tip and, on
// success, advances the chain state: the UTXO set, the code-cell registry,
// the bounded ancestor-header window, and the running already_generated
// issuance counter (computed from consensus.BlockSubsidy for telemetry;
// ApplyBlock enforces the actual coinbase-value cap against its own
// internal subsidy schedule independently).
func (s *ChainState) ConnectBlock(
	blockBytes []byte,
	p crypto.CryptoProvider,
	hardforks chain.HardforkSwitch,
	chainID [32]byte,
) (*ChainStateConnectSummary, error) {
	if s == nil {
		return nil, errors.New("nil chainstate")
	}
	if s.Utxos == nil {
		s.Utxos = make(map[consensus.TxOutPoint]consensus.UtxoEntry)
	}
	if s.CodeByHash == nil {
		s.CodeByHash = make(map[[32]byte][]byte)
	}

	block, err := consensus.ParseBlockBytes(blockBytes)
	if err != nil {
		return nil, err
	}

	nextHeight, err := nextBlockHeight(s)
	if err != nil {
		return nil, err
	}

	ctx := consensus.BlockValidationContext{
		Height:          nextHeight,
		AncestorHeaders: s.AncestorHeaders,
	}

	workingUTXO := copyUtxoSet(s.Utxos)
	workingCode := copyCodeSet(s.CodeByHash)
	registerCodeCells(workingCode, p, &block)

	if err := consensus.ApplyBlock(p, hardforks, workingCode, chainID, &block, workingUTXO, ctx); err != nil {
		return nil, err
	}

	blockHash, err := consensus.BlockHeaderHash(p, block.Header)
	if err != nil {
		return nil, err
	}

	var subsidy uint64
	if nextHeight > 0 {
		subsidy = consensus.BlockSubsidy(nextHeight, s.AlreadyGenerated)
	}

	s.HasTip = true
	s.Height = nextHeight
	s.TipHash = blockHash
	s.AlreadyGenerated += subsidy
	s.Utxos = workingUTXO
	s.CodeByHash = workingCode
	s.AncestorHeaders = appendAncestorHeader(s.AncestorHeaders, block.Header)

	return &ChainStateConnectSummary{
		BlockHeight: nextHeight,
		BlockHash:   blockHash,
		UtxoCount:   uint64(len(workingUTXO)),
	}, nil
}

func nextBlockHeight(s *ChainState) (uint64, error) {
	if s == nil {
		return 0, errors.New("nil chainstate")
	}
	if !s.HasTip {
		return 0, nil
	}
	if s.Height == math.MaxUint64 {
		return 0, errors.New("height overflow")
	}
	return s.Height + 1, nil
}

// appendAncestorHeader records header as the new newest ancestor, evicting
// the oldest entry once the window exceeds WINDOW_SIZE (the deepest lookback
// blockExpectedTarget's retarget check ever needs).
func appendAncestorHeader(headers []consensus.BlockHeader, header consensus.BlockHeader) []consensus.BlockHeader {
	out := append(headers, header)
	if uint64(len(out)) > maxAncestorHeaders {
		out = append([]consensus.BlockHeader(nil), out[uint64(len(out))-maxAncestorHeaders:]...)
	}
	return out
}

// registerCodeCells scans a block's own outputs for code cells (any output
// carrying non-empty Data) and adds their content hash to dst, so that a
// code cell created and spent within the same block resolves during this
// ApplyBlock call, not only code cells deployed by earlier blocks.
func registerCodeCells(dst map[[32]byte][]byte, p crypto.CryptoProvider, block *consensus.Block) {
	for i := range block.Transactions {
		for _, out := range block.Transactions[i].Outputs {
			if len(out.Data) == 0 {
				continue
			}
			hash := chain.CellDataHash(p, out.Data)
			dst[hash] = append([]byte(nil), out.Data...)
		}
	}
}

func copyUtxoSet(src map[consensus.TxOutPoint]consensus.UtxoEntry) map[consensus.TxOutPoint]consensus.UtxoEntry {
	out := make(map[consensus.TxOutPoint]consensus.UtxoEntry, len(src))
	for k, v := range src {
		out[k] = consensus.UtxoEntry{
			Output: consensus.TxOutput{
				Value: v.Output.Value,
				Lock:  v.Output.Lock,
				Type:  copyScriptPtr(v.Output.Type),
				Data:  append([]byte(nil), v.Output.Data...),
			},
			CreationHeight:    v.CreationHeight,
			CreatedByCoinbase: v.CreatedByCoinbase,
		}
	}
	return out
}

func copyCodeSet(src map[[32]byte][]byte) map[[32]byte][]byte {
	out := make(map[[32]byte][]byte, len(src))
	for k, v := range src {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func copyScriptPtr(s *chain.Script) *chain.Script {
	if s == nil {
		return nil
	}
	cp := chain.Script{CodeHash: s.CodeHash, HashType: s.HashType, Args: append([]byte(nil), s.Args...)}
	return &cp
}

func stateToDisk(s *ChainState) (chainStateDisk, error) {
	if s == nil {
		return chainStateDisk{}, errors.New("nil chainstate")
	}
	utxos := make([]utxoDiskEntry, 0, len(s.Utxos))
	for op, entry := range s.Utxos {
		var typeHex string
		if entry.Output.Type != nil {
			typeHex = hex.EncodeToString(scriptBytesForDisk(*entry.Output.Type))
		}
		utxos = append(utxos, utxoDiskEntry{
			Txid:              hex.EncodeToString(op.TxID[:]),
			Vout:              op.Vout,
			Value:             entry.Output.Value,
			Lock:              hex.EncodeToString(scriptBytesForDisk(entry.Output.Lock)),
			Type:              typeHex,
			Data:              hex.EncodeToString(entry.Output.Data),
			CreationHeight:    entry.CreationHeight,
			CreatedByCoinbase: entry.CreatedByCoinbase,
		})
	}
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Txid != utxos[j].Txid {
			return utxos[i].Txid < utxos[j].Txid
		}
		return utxos[i].Vout < utxos[j].Vout
	})

	code := make([]codeDiskEntry, 0, len(s.CodeByHash))
	for hash, bytecode := range s.CodeByHash {
		code = append(code, codeDiskEntry{
			Hash: hex.EncodeToString(hash[:]),
			Code: hex.EncodeToString(bytecode),
		})
	}
	sort.Slice(code, func(i, j int) bool { return code[i].Hash < code[j].Hash })

	headers := make([]string, 0, len(s.AncestorHeaders))
	for _, h := range s.AncestorHeaders {
		headers = append(headers, hex.EncodeToString(consensus.BlockHeaderBytes(h)))
	}

	return chainStateDisk{
		Version:          chainStateDiskVersion,
		HasTip:           s.HasTip,
		Height:           s.Height,
		TipHash:          hex.EncodeToString(s.TipHash[:]),
		AlreadyGenerated: s.AlreadyGenerated,
		Utxos:            utxos,
		Code:             code,
		AncestorHeaders:  headers,
	}, nil
}

func scriptBytesForDisk(s chain.Script) []byte {
	return chain.SerializeScript(s)
}

func chainStateFromDisk(disk chainStateDisk) (*ChainState, error) {
	if disk.Version != chainStateDiskVersion {
		return nil, fmt.Errorf("unsupported chainstate version: %d", disk.Version)
	}

	tipHash, err := parseHex32("tip_hash", disk.TipHash)
	if err != nil {
		return nil, err
	}
	utxos := make(map[consensus.TxOutPoint]consensus.UtxoEntry, len(disk.Utxos))
	for _, item := range disk.Utxos {
		txid, err := parseHex32("utxo.txid", item.Txid)
		if err != nil {
			return nil, err
		}
		lock, err := parseScriptHex("utxo.lock", item.Lock)
		if err != nil {
			return nil, err
		}
		var typ *chain.Script
		if item.Type != "" {
			t, err := parseScriptHex("utxo.type", item.Type)
			if err != nil {
				return nil, err
			}
			typ = &t
		}
		data, err := parseHex("utxo.data", item.Data)
		if err != nil {
			return nil, err
		}
		op := consensus.TxOutPoint{TxID: txid, Vout: item.Vout}
		if _, exists := utxos[op]; exists {
			return nil, fmt.Errorf("duplicate utxo outpoint: %s:%d", item.Txid, item.Vout)
		}
		utxos[op] = consensus.UtxoEntry{
			Output: consensus.TxOutput{
				Value: item.Value,
				Lock:  lock,
				Type:  typ,
				Data:  data,
			},
			CreationHeight:    item.CreationHeight,
			CreatedByCoinbase: item.CreatedByCoinbase,
		}
	}

	codeByHash := make(map[[32]byte][]byte, len(disk.Code))
	for _, item := range disk.Code {
		hash, err := parseHex32("code.hash", item.Hash)
		if err != nil {
			return nil, err
		}
		bytecode, err := parseHex("code.code", item.Code)
		if err != nil {
			return nil, err
		}
		codeByHash[hash] = bytecode
	}

	headers := make([]consensus.BlockHeader, 0, len(disk.AncestorHeaders))
	for _, raw := range disk.AncestorHeaders {
		b, err := parseHex("ancestor_header", raw)
		if err != nil {
			return nil, err
		}
		header, err := consensus.ParseBlockHeaderBytes(b)
		if err != nil {
			return nil, fmt.Errorf("ancestor_header: %w", err)
		}
		headers = append(headers, header)
	}

	return &ChainState{
		HasTip:           disk.HasTip,
		Height:           disk.Height,
		TipHash:          tipHash,
		AlreadyGenerated: disk.AlreadyGenerated,
		Utxos:            utxos,
		CodeByHash:       codeByHash,
		AncestorHeaders:  headers,
	}, nil
}

func parseScriptHex(name, value string) (chain.Script, error) {
	raw, err := parseHex(name, value)
	if err != nil {
		return chain.Script{}, err
	}
	if len(raw) < 33 {
		return chain.Script{}, fmt.Errorf("%s: too short", name)
	}
	var s chain.Script
	copy(s.CodeHash[:], raw[:32])
	s.HashType = chain.HashType(raw[32])
	s.Args = append([]byte(nil), raw[33:]...)
	return s, nil
}

func parseHex(name, value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed)%2 != 0 {
		return nil, fmt.Errorf("%s: odd-length hex", name)
	}
	out, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func parseHex32(name, value string) ([32]byte, error) {
	var out [32]byte
	raw, err := parseHex(name, value)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("%s: expected 32 bytes, got %d", name, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
