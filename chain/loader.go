package chain

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is the chain-store fallback a DataLoader consults after its
// in-memory overlay misses. Implementations live in node/store; this
// interface is the only surface the script subsystem depends on (spec.md
// §4.1: "consults an in-memory overlay first... then the chain store
// snapshot").
type Store interface {
	GetCell(op OutPoint) (Cell, bool, error)
	GetHeader(hash [32]byte) (Header, bool, error)
}

// Loader implements the DataLoader contract of spec.md §4.1: given an
// OutPoint, returns the cell, its data, and its data hash; given a block
// hash, returns the header. A bounded LRU fronts the store fallback so that
// repeatedly-referenced cell-deps (shared code cells in particular) don't
// re-hit the store on every lookup within a verification run.
type Loader struct {
	overlay map[OutPoint]overlayCell
	headers map[[32]byte]Header
	store   Store
	cache   *lru.Cache[OutPoint, Cell]
}

type overlayCell struct {
	cell Cell
}

// NewLoader builds a Loader over store, with an LRU cache of the given size
// fronting store lookups. cacheSize <= 0 disables caching.
func NewLoader(store Store, cacheSize int) *Loader {
	l := &Loader{
		overlay: make(map[OutPoint]overlayCell),
		headers: make(map[[32]byte]Header),
		store:   store,
	}
	if cacheSize > 0 {
		c, err := lru.New[OutPoint, Cell](cacheSize)
		if err == nil {
			l.cache = c
		}
	}
	return l
}

// PutOverlayCell registers a cell created by a yet-uncommitted transaction
// (e.g. an earlier transaction in the same block, or another pool entry)
// so that later lookups see it before falling back to the store.
func (l *Loader) PutOverlayCell(op OutPoint, c Cell) {
	l.overlay[op] = overlayCell{cell: c}
}

// PutOverlayHeader registers a header not yet committed to the store.
func (l *Loader) PutOverlayHeader(h Header) {
	l.headers[h.Hash] = h
}

// GetCell returns the cell at op, its data, and its data hash.
func (l *Loader) GetCell(op OutPoint) (Cell, []byte, [32]byte, error) {
	if oc, ok := l.overlay[op]; ok {
		return oc.cell, oc.cell.Data, oc.cell.DataHash, nil
	}
	if l.cache != nil {
		if c, ok := l.cache.Get(op); ok {
			return c, c.Data, c.DataHash, nil
		}
	}
	if l.store == nil {
		return Cell{}, nil, [32]byte{}, &NotFound{What: "cell " + opString(op)}
	}
	c, ok, err := l.store.GetCell(op)
	if err != nil {
		return Cell{}, nil, [32]byte{}, err
	}
	if !ok {
		return Cell{}, nil, [32]byte{}, &NotFound{What: "cell " + opString(op)}
	}
	if l.cache != nil {
		l.cache.Add(op, c)
	}
	return c, c.Data, c.DataHash, nil
}

// GetHeader returns the header with the given hash.
func (l *Loader) GetHeader(hash [32]byte) (Header, error) {
	if h, ok := l.headers[hash]; ok {
		return h, nil
	}
	if l.store == nil {
		return Header{}, &NotFound{What: "header"}
	}
	h, ok, err := l.store.GetHeader(hash)
	if err != nil {
		return Header{}, err
	}
	if !ok {
		return Header{}, &NotFound{What: "header"}
	}
	return h, nil
}

func opString(op OutPoint) string {
	const hexdigits = "0123456789abcdef"
	buf := make([]byte, 0, 64+1+10)
	for _, b := range op.TxHash {
		buf = append(buf, hexdigits[b>>4], hexdigits[b&0xf])
	}
	buf = append(buf, ':')
	buf = append(buf, []byte(strconv.FormatUint(uint64(op.Index), 10))...)
	return string(buf)
}
