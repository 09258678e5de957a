// Package syscall implements the VM host's syscall table: it decodes the
// common (addr, size_ptr, offset, index, source[, field]) argument shape
// off a vm.CPU's registers, reads the requested item out of a resolved
// transaction's script-group view, and writes it back into guest memory
// (spec.md §4.4, §6). The VM package is kept ignorant of the transaction
// domain; this package is the only place the two meet, via the
// vm.SyscallTable interface (spec.md §9 "Cyclic ownership").
package syscall

import (
	"fmt"

	"rubin.dev/node/chain"
	"rubin.dev/node/crypto"
	"rubin.dev/node/vm"
)

// Fixed syscall numbers (spec.md §6 "Syscall ABI (stable)").
const (
	NumLoadTxHash         = 2061
	NumLoadScriptHash     = 2062
	NumLoadCell           = 2071
	NumLoadHeader         = 2072
	NumLoadInput          = 2073
	NumLoadWitness        = 2074
	NumLoadTransaction    = 2075
	NumLoadScript         = 2076
	NumLoadCellByField    = 2081
	NumLoadHeaderByField  = 2082
	NumLoadInputByField   = 2083
	NumLoadCellDataAsCode = 2091
	NumLoadCellData       = 2092
	NumDebug              = 2177
)

// Status codes returned in the guest's primary result register.
const (
	StatusSuccess         uint8 = 0
	StatusIndexOutOfBound uint8 = 1
	StatusItemMissing     uint8 = 2
	StatusSliceOutOfBound uint8 = 3
)

// LoadCellByField field selectors.
const (
	CellFieldCapacity         = 0
	CellFieldData             = 1
	CellFieldDataHash         = 2
	CellFieldLock             = 3
	CellFieldLockHash         = 4
	CellFieldType             = 5
	CellFieldTypeHash         = 6
	CellFieldOccupiedCapacity = 7
)

// LoadHeaderByField field selectors.
const (
	HeaderFieldEpochNumber           = 0
	HeaderFieldEpochStartBlockNumber = 1
	HeaderFieldEpochLength           = 2
)

// LoadInputByField field selectors.
const (
	InputFieldOutPoint = 0
	InputFieldSince    = 1
)

// DebugSink receives guest Debug() strings, tagged with the script role
// that emitted them.
type DebugSink interface {
	Debug(role chain.Role, msg string)
}

// Host implements vm.SyscallTable for one script group's verification run.
// A fresh Host is constructed per group (spec.md §4.6): it never outlives
// the VM run it serves.
type Host struct {
	RTX      *chain.ResolvedTransaction
	Group    *chain.ScriptGroup
	Script   chain.Script
	Provider crypto.CryptoProvider
	Debug    DebugSink
}

// NewHost builds the syscall table a VM running script (the identity of
// group's script) should see.
func NewHost(rtx *chain.ResolvedTransaction, group *chain.ScriptGroup, script chain.Script, p crypto.CryptoProvider, dbg DebugSink) *Host {
	return &Host{RTX: rtx, Group: group, Script: script, Provider: p, Debug: dbg}
}

// Invoke implements vm.SyscallTable.
func (h *Host) Invoke(c *vm.CPU) error {
	num := c.Reg(vm.RegA7)
	var status uint8
	var err error
	switch num {
	case NumLoadTxHash:
		hash := chain.TxHash(h.Provider, h.RTX.Tx)
		status, err = h.loadFixed(c, hash[:])
	case NumLoadScriptHash:
		hash := chain.ScriptHash(h.Provider, h.Script)
		status, err = h.loadFixed(c, hash[:])
	case NumLoadScript:
		status, err = h.loadFixed(c, chain.SerializeScript(h.Script))
	case NumLoadTransaction:
		status, err = h.loadFixed(c, chain.SerializeTransaction(h.RTX.Tx, true))
	case NumLoadCell:
		status, err = h.loadCell(c)
	case NumLoadCellByField:
		status, err = h.loadCellByField(c)
	case NumLoadCellData:
		status, err = h.loadCellData(c)
	case NumLoadCellDataAsCode:
		status, err = h.loadCellDataAsCode(c)
	case NumLoadHeader:
		status, err = h.loadHeader(c)
	case NumLoadHeaderByField:
		status, err = h.loadHeaderByField(c)
	case NumLoadInput:
		status, err = h.loadInput(c)
	case NumLoadInputByField:
		status, err = h.loadInputByField(c)
	case NumLoadWitness:
		status, err = h.loadWitness(c)
	case NumDebug:
		return h.debug(c)
	default:
		return fmt.Errorf("syscall: unknown syscall number %d", num)
	}
	if err != nil {
		return err
	}
	c.SetReg(vm.RegA0, uint64(status))
	return nil
}

// loadFixed serves syscalls with no source/index: (addr, size_ptr, offset).
func (h *Host) loadFixed(c *vm.CPU, item []byte) (uint8, error) {
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	status, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, item)
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return status, nil
}

// sourceArgs decodes the (index, source) pair for the common argument
// shape's 4th/5th slots.
func (h *Host) sourceArgs(c *vm.CPU) (index uint64, src chain.Source, err error) {
	index = c.Reg(vm.RegA3)
	raw := c.Reg(vm.RegA4)
	s, ok := chain.DecodeSource(raw)
	if !ok {
		return 0, chain.Source{}, fmt.Errorf("syscall: unrecognized source tag %#x", raw)
	}
	return index, s, nil
}

// resolveGlobal maps a (index, source) pair to a global position within
// rtx's Tx collection named by source.Entry, honoring group-scoping.
func (h *Host) resolveGlobal(c *vm.CPU) (global int, entry chain.Entry, status uint8, err error) {
	index, src, err := h.sourceArgs(c)
	if err != nil {
		return 0, 0, 0, err
	}
	indices := src.Slice(h.RTX, h.Group)
	if index >= uint64(len(indices)) {
		return 0, src.Entry, StatusIndexOutOfBound, nil
	}
	return indices[index], src.Entry, StatusSuccess, nil
}

type cellView struct {
	Capacity uint64
	Lock     chain.Script
	Type     *chain.Script
	Data     []byte
	DataHash [32]byte
}

func (h *Host) cellView(entry chain.Entry, global int) (cellView, bool) {
	switch entry {
	case chain.EntryInput:
		if global < 0 || global >= len(h.RTX.ResolvedInputs) {
			return cellView{}, false
		}
		c := h.RTX.ResolvedInputs[global]
		return cellView{c.Capacity, c.Lock, c.Type, c.Data, c.DataHash}, true
	case chain.EntryOutput:
		if global < 0 || global >= len(h.RTX.Tx.Outputs) {
			return cellView{}, false
		}
		c := h.RTX.Tx.Outputs[global]
		data := h.RTX.Tx.OutputsData[global]
		return cellView{c.Capacity, c.Lock, c.Type, data, chain.CellDataHash(h.Provider, data)}, true
	case chain.EntryCellDep:
		if global < 0 || global >= len(h.RTX.ResolvedDeps) {
			return cellView{}, false
		}
		c := h.RTX.ResolvedDeps[global].Cell
		return cellView{c.Capacity, c.Lock, c.Type, c.Data, c.DataHash}, true
	default:
		return cellView{}, false
	}
}

// occupiedCapacity approximates the storage a cell's own serialized form
// and data occupy, for the OccupiedCapacity field selector. It is not a
// consensus-critical figure in this host: no component here charges rent
// or minimum-capacity fees against it.
func occupiedCapacity(cv cellView) uint64 {
	n := uint64(8 + len(chain.SerializeScript(cv.Lock)) + len(cv.Data))
	if cv.Type != nil {
		n += uint64(len(chain.SerializeScript(*cv.Type)))
	}
	return n
}

func (h *Host) loadCell(c *vm.CPU) (uint8, error) {
	global, entry, status, err := h.resolveGlobal(c)
	if err != nil {
		return 0, err
	}
	if status != StatusSuccess {
		return status, nil
	}
	cv, ok := h.cellView(entry, global)
	if !ok {
		return StatusItemMissing, nil
	}
	cell := chain.Cell{Capacity: cv.Capacity, Lock: cv.Lock, Type: cv.Type, Data: cv.Data, DataHash: cv.DataHash}
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	out, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, chain.SerializeCellOutput(cell))
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return out, nil
}

func (h *Host) loadCellByField(c *vm.CPU) (uint8, error) {
	global, entry, status, err := h.resolveGlobal(c)
	if err != nil {
		return 0, err
	}
	if status != StatusSuccess {
		return status, nil
	}
	cv, ok := h.cellView(entry, global)
	if !ok {
		return StatusItemMissing, nil
	}
	field := c.Reg(vm.RegA5)
	var item []byte
	switch field {
	case CellFieldCapacity:
		item = le64(cv.Capacity)
	case CellFieldData:
		item = cv.Data
	case CellFieldDataHash:
		item = cv.DataHash[:]
	case CellFieldLock:
		item = chain.SerializeScript(cv.Lock)
	case CellFieldLockHash:
		h2 := chain.ScriptHash(h.Provider, cv.Lock)
		item = h2[:]
	case CellFieldType:
		if cv.Type == nil {
			return StatusItemMissing, nil
		}
		item = chain.SerializeScript(*cv.Type)
	case CellFieldTypeHash:
		if cv.Type == nil {
			return StatusItemMissing, nil
		}
		h2 := chain.ScriptHash(h.Provider, *cv.Type)
		item = h2[:]
	case CellFieldOccupiedCapacity:
		item = le64(occupiedCapacity(cv))
	default:
		return 0, fmt.Errorf("syscall: unrecognized cell field %d", field)
	}
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	out, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, item)
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return out, nil
}

func (h *Host) loadCellData(c *vm.CPU) (uint8, error) {
	global, entry, status, err := h.resolveGlobal(c)
	if err != nil {
		return 0, err
	}
	if status != StatusSuccess {
		return status, nil
	}
	cv, ok := h.cellView(entry, global)
	if !ok {
		return StatusItemMissing, nil
	}
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	out, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, cv.Data)
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return out, nil
}

// loadCellDataAsCode implements the one syscall whose argument shape
// departs from the common (addr, size_ptr, offset, index, source[,field]):
// here addr/size name the destination range directly rather than a
// capacity pointer (spec.md §4.4).
func (h *Host) loadCellDataAsCode(c *vm.CPU) (uint8, error) {
	addr := c.Reg(vm.RegA0)
	size := c.Reg(vm.RegA1)
	contentOffset := c.Reg(vm.RegA2)
	contentSize := c.Reg(vm.RegA3)
	index := c.Reg(vm.RegA4)
	rawSource := c.Reg(vm.RegA5)

	src, ok := chain.DecodeSource(rawSource)
	if !ok {
		return 0, fmt.Errorf("syscall: unrecognized source tag %#x", rawSource)
	}
	indices := src.Slice(h.RTX, h.Group)
	if index >= uint64(len(indices)) {
		return StatusIndexOutOfBound, nil
	}
	cv, ok := h.cellView(src.Entry, indices[index])
	if !ok {
		return StatusItemMissing, nil
	}

	err := c.Mem.LoadCellDataAsCode(int(addr), int(size), cv.Data, int(contentOffset), int(contentSize))
	switch err {
	case nil:
		c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(int(contentSize)))
		return StatusSuccess, nil
	case vm.ErrSliceOutOfBound:
		return StatusSliceOutOfBound, nil
	case vm.ErrUnaligned, vm.ErrWriteOnExecutable, vm.ErrOutOfBounds:
		return 0, err
	default:
		return 0, err
	}
}

// loadHeader supports HeaderDep addressing only: this host does not track
// which block committed an arbitrary input or cell-dep's cell, so Input and
// CellDep sources report ItemMissing rather than a header (a documented
// simplification; see DESIGN.md).
func (h *Host) loadHeader(c *vm.CPU) (uint8, error) {
	global, entry, status, err := h.resolveGlobal(c)
	if err != nil {
		return 0, err
	}
	if status != StatusSuccess {
		return status, nil
	}
	if entry != chain.EntryHeaderDep {
		return StatusItemMissing, nil
	}
	if global < 0 || global >= len(h.RTX.ResolvedHeaders) {
		return StatusIndexOutOfBound, nil
	}
	hdr := h.RTX.ResolvedHeaders[global]
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	out, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, hdr.Hash[:])
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return out, nil
}

func (h *Host) loadHeaderByField(c *vm.CPU) (uint8, error) {
	global, entry, status, err := h.resolveGlobal(c)
	if err != nil {
		return 0, err
	}
	if status != StatusSuccess {
		return status, nil
	}
	if entry != chain.EntryHeaderDep || global < 0 || global >= len(h.RTX.ResolvedHeaders) {
		return StatusItemMissing, nil
	}
	hdr := h.RTX.ResolvedHeaders[global]
	field := c.Reg(vm.RegA5)
	var item []byte
	switch field {
	case HeaderFieldEpochNumber:
		item = le64(hdr.EpochNumber)
	case HeaderFieldEpochStartBlockNumber:
		item = le64(hdr.EpochStartBlockNo)
	case HeaderFieldEpochLength:
		item = le64(hdr.EpochLength)
	default:
		return 0, fmt.Errorf("syscall: unrecognized header field %d", field)
	}
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	out, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, item)
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return out, nil
}

func (h *Host) loadInput(c *vm.CPU) (uint8, error) {
	global, entry, status, err := h.resolveGlobal(c)
	if err != nil {
		return 0, err
	}
	if status != StatusSuccess {
		return status, nil
	}
	if entry != chain.EntryInput || global < 0 || global >= len(h.RTX.Tx.Inputs) {
		return StatusItemMissing, nil
	}
	in := h.RTX.Tx.Inputs[global]
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	out, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, serializeInput(in))
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return out, nil
}

func (h *Host) loadInputByField(c *vm.CPU) (uint8, error) {
	global, entry, status, err := h.resolveGlobal(c)
	if err != nil {
		return 0, err
	}
	if status != StatusSuccess {
		return status, nil
	}
	if entry != chain.EntryInput || global < 0 || global >= len(h.RTX.Tx.Inputs) {
		return StatusItemMissing, nil
	}
	in := h.RTX.Tx.Inputs[global]
	field := c.Reg(vm.RegA5)
	var item []byte
	switch field {
	case InputFieldOutPoint:
		item = append(append([]byte{}, in.PreviousOutput.TxHash[:]...), le32(in.PreviousOutput.Index)...)
	case InputFieldSince:
		item = le64(in.Since)
	default:
		return 0, fmt.Errorf("syscall: unrecognized input field %d", field)
	}
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	out, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, item)
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return out, nil
}

func (h *Host) loadWitness(c *vm.CPU) (uint8, error) {
	index, src, err := h.sourceArgs(c)
	if err != nil {
		return 0, err
	}
	indices := src.Slice(h.RTX, h.Group)
	if index >= uint64(len(indices)) {
		return StatusIndexOutOfBound, nil
	}
	global := indices[index]
	if global < 0 || global >= len(h.RTX.Tx.Witnesses) {
		return StatusItemMissing, nil
	}
	addr, sizePtr, offset := c.Reg(vm.RegA0), c.Reg(vm.RegA1), c.Reg(vm.RegA2)
	out, n, err := writeBuffer(c.Mem, addr, sizePtr, offset, h.RTX.Tx.Witnesses[global])
	if err != nil {
		return 0, err
	}
	c.ChargeCycles(vm.SyscallEntryCost + vm.SyscallBytesCost(n))
	return out, nil
}

// debug writes a guest-provided null-terminated string to the debug log. No
// status register write happens for Debug (spec.md §4.4).
func (h *Host) debug(c *vm.CPU) error {
	addr := int(c.Reg(vm.RegA0))
	const maxLen = 4096
	msg, err := readCString(c.Mem, addr, maxLen)
	if err != nil {
		return err
	}
	if h.Debug != nil {
		h.Debug.Debug(h.Group.Role(), msg)
	}
	return nil
}

func readCString(mem *vm.Memory, addr, maxLen int) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		b, err := mem.Read(addr+i, 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return string(buf), nil
}

func serializeInput(in chain.TxInput) []byte {
	buf := append([]byte{}, in.PreviousOutput.TxHash[:]...)
	buf = append(buf, le32(in.PreviousOutput.Index)...)
	buf = append(buf, le64(in.Since)...)
	return buf
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func le64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}

func putLe64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getLe64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// writeBuffer implements the common read-syscall argument shape (spec.md
// §4.4): it always writes item's true length back to *sizePtr, then copies
// at most the caller's declared capacity bytes starting from offset. It
// returns the number of bytes actually copied, for cycle charging.
func writeBuffer(mem *vm.Memory, addr, sizePtr, offset uint64, item []byte) (uint8, int, error) {
	capBuf, err := mem.Read(int(sizePtr), 8)
	if err != nil {
		return 0, 0, err
	}
	capacity := getLe64(capBuf)

	length := uint64(len(item))
	lenBuf := make([]byte, 8)
	putLe64(lenBuf, length)
	if err := mem.Write(int(sizePtr), lenBuf); err != nil {
		return 0, 0, err
	}

	if offset > length {
		return StatusSliceOutOfBound, 0, nil
	}
	avail := length - offset
	n := capacity
	if n > avail {
		n = avail
	}
	if n > 0 {
		if err := mem.Write(int(addr), item[offset:offset+n]); err != nil {
			return 0, 0, err
		}
	}
	return StatusSuccess, int(n), nil
}
