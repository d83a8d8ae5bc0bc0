// Package btree implements the generic page-resident B+-tree that backs
// the Cache Data Tree, the Pending Entries Tree, and the Link Map. It
// operates over a pagemem.Memory + pagestore.Store pair with
// cachemodel.PageID addressing. Keys and values are opaque []byte.
package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
)

// Tree is a page-resident B+-tree scoped to one (partition, flag) page
// space. It is append-mostly: the defragmentation pipeline only ever
// inserts into new trees, so deletion is intentionally not implemented.
type Tree struct {
	mem       pagemem.Memory
	store     pagestore.Store
	partition uint32
	flag      cachemodel.PageFlag
	pageSize  int
	bodySize  int
	root      cachemodel.PageID
}

// Create allocates a fresh empty leaf root and returns a Tree over it.
func Create(mem pagemem.Memory, store pagestore.Store, partition uint32, flag cachemodel.PageFlag) (*Tree, error) {
	t := &Tree{
		mem:       mem,
		store:     store,
		partition: partition,
		flag:      flag,
		pageSize:  store.PageSize(),
		bodySize:  store.PageSize() - pagestore.HeaderSize,
	}
	rootID, err := store.AllocatePage(flag)
	if err != nil {
		return nil, fmt.Errorf("btree create: %w", err)
	}
	t.root = rootID
	if err := t.writeLeaf(rootID, &leafNode{next: cachemodel.InvalidPageID}); err != nil {
		return nil, err
	}
	return t, nil
}

// Open returns a Tree rooted at an existing page id (resume/reopen case).
func Open(mem pagemem.Memory, store pagestore.Store, partition uint32, flag cachemodel.PageFlag, root cachemodel.PageID) *Tree {
	return &Tree{
		mem:       mem,
		store:     store,
		partition: partition,
		flag:      flag,
		pageSize:  store.PageSize(),
		bodySize:  store.PageSize() - pagestore.HeaderSize,
		root:      root,
	}
}

// Root returns the tree's current root page id, which moves whenever the
// root splits.
func (t *Tree) Root() cachemodel.PageID { return t.root }

// ─── node encoding ──────────────────────────────────────────────────────

type leafNode struct {
	keys   [][]byte
	values [][]byte
	next   cachemodel.PageID
}

type internalNode struct {
	keys     [][]byte
	children []cachemodel.PageID
}

const leafHdrSize = 1 + 2 + 8    // isLeaf + count + next
const internalHdrSize = 1 + 2 + 8 // isLeaf + count + firstChild

func encodeLeaf(n *leafNode) []byte {
	size := leafHdrSize
	for i := range n.keys {
		size += 2 + len(n.keys[i]) + 4 + len(n.values[i])
	}
	buf := make([]byte, size)
	buf[0] = 1
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.keys)))
	binary.LittleEndian.PutUint64(buf[3:11], uint64(n.next))
	off := leafHdrSize
	for i := range n.keys {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(n.keys[i])))
		off += 2
		copy(buf[off:], n.keys[i])
		off += len(n.keys[i])
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(n.values[i])))
		off += 4
		copy(buf[off:], n.values[i])
		off += len(n.values[i])
	}
	return buf
}

func decodeLeaf(body []byte) (*leafNode, error) {
	if len(body) < leafHdrSize || body[0] != 1 {
		return nil, fmt.Errorf("decode leaf: bad header")
	}
	count := int(binary.LittleEndian.Uint16(body[1:3]))
	n := &leafNode{
		next:   cachemodel.PageID(binary.LittleEndian.Uint64(body[3:11])),
		keys:   make([][]byte, count),
		values: make([][]byte, count),
	}
	off := leafHdrSize
	for i := 0; i < count; i++ {
		klen := int(binary.LittleEndian.Uint16(body[off : off+2]))
		off += 2
		n.keys[i] = append([]byte(nil), body[off:off+klen]...)
		off += klen
		vlen := int(binary.LittleEndian.Uint32(body[off : off+4]))
		off += 4
		n.values[i] = append([]byte(nil), body[off:off+vlen]...)
		off += vlen
	}
	return n, nil
}

func encodeInternal(n *internalNode) []byte {
	size := internalHdrSize
	for _, k := range n.keys {
		size += 2 + len(k) + 8
	}
	buf := make([]byte, size)
	buf[0] = 0
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.keys)))
	binary.LittleEndian.PutUint64(buf[3:11], uint64(n.children[0]))
	off := internalHdrSize
	for i, k := range n.keys {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(k)))
		off += 2
		copy(buf[off:], k)
		off += len(k)
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.children[i+1]))
		off += 8
	}
	return buf
}

func decodeInternal(body []byte) (*internalNode, error) {
	if len(body) < internalHdrSize || body[0] != 0 {
		return nil, fmt.Errorf("decode internal: bad header")
	}
	count := int(binary.LittleEndian.Uint16(body[1:3]))
	n := &internalNode{
		keys:     make([][]byte, count),
		children: make([]cachemodel.PageID, count+1),
	}
	n.children[0] = cachemodel.PageID(binary.LittleEndian.Uint64(body[3:11]))
	off := internalHdrSize
	for i := 0; i < count; i++ {
		klen := int(binary.LittleEndian.Uint16(body[off : off+2]))
		off += 2
		n.keys[i] = append([]byte(nil), body[off:off+klen]...)
		off += klen
		n.children[i+1] = cachemodel.PageID(binary.LittleEndian.Uint64(body[off : off+8]))
		off += 8
	}
	return n, nil
}

func isLeafPage(body []byte) bool {
	return len(body) > 0 && body[0] == 1
}

// ─── page I/O ────────────────────────────────────────────────────────────

func (t *Tree) readNodeBody(id cachemodel.PageID) ([]byte, error) {
	body, err := t.mem.Pin(id)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), body...)
	if uerr := t.mem.Unpin(id, false); uerr != nil {
		return nil, uerr
	}
	return out, nil
}

func (t *Tree) writeLeaf(id cachemodel.PageID, n *leafNode) error {
	return t.writeBody(id, pagestore.PageTypeBTreeLeaf, encodeLeaf(n))
}

func (t *Tree) writeInternal(id cachemodel.PageID, n *internalNode) error {
	return t.writeBody(id, pagestore.PageTypeBTreeInt, encodeInternal(n))
}

func (t *Tree) writeBody(id cachemodel.PageID, typ pagestore.PageType, body []byte) error {
	if len(body) > t.bodySize {
		return fmt.Errorf("write page %s: node body %d exceeds page capacity %d", id, len(body), t.bodySize)
	}
	full := pagestore.NewPage(t.pageSize, typ, 1)
	copy(pagestore.Body(full), body)
	if bp, ok := t.mem.(writeNower); ok {
		return bp.WritePageNow(id, full)
	}
	// Fallback for Memory implementations without the fast-path hook:
	// pin, overwrite, mark dirty, unpin.
	dst, err := t.mem.Pin(id)
	if err != nil {
		return err
	}
	copy(dst, pagestore.Body(full))
	return t.mem.Unpin(id, true)
}

// writeNower is satisfied by pagemem.BufferPool; it lets node writes avoid
// an unnecessary read-before-write round trip.
type writeNower interface {
	WritePageNow(id cachemodel.PageID, full []byte) error
}

// ─── lookup / insert ─────────────────────────────────────────────────────

func (t *Tree) allocLeaf() (cachemodel.PageID, error) {
	return t.store.AllocatePage(t.flag)
}

func (t *Tree) allocInternal() (cachemodel.PageID, error) {
	return t.store.AllocatePage(t.flag)
}

// Get returns the value for key, or (nil, false) if absent.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	id := t.root
	for {
		body, err := t.readNodeBody(id)
		if err != nil {
			return nil, false, err
		}
		if isLeafPage(body) {
			leaf, err := decodeLeaf(body)
			if err != nil {
				return nil, false, err
			}
			i := sort.Search(len(leaf.keys), func(i int) bool { return bytes.Compare(leaf.keys[i], key) >= 0 })
			if i < len(leaf.keys) && bytes.Equal(leaf.keys[i], key) {
				return leaf.values[i], true, nil
			}
			return nil, false, nil
		}
		internal, err := decodeInternal(body)
		if err != nil {
			return nil, false, err
		}
		i := sort.Search(len(internal.keys), func(i int) bool { return bytes.Compare(internal.keys[i], key) > 0 })
		id = internal.children[i]
	}
}

// Insert writes key→value, overwriting any existing value for key.
func (t *Tree) Insert(key, value []byte) error {
	path, leafID, leaf, err := t.findLeafWithPath(key)
	if err != nil {
		return err
	}

	i := sort.Search(len(leaf.keys), func(i int) bool { return bytes.Compare(leaf.keys[i], key) >= 0 })
	if i < len(leaf.keys) && bytes.Equal(leaf.keys[i], key) {
		leaf.values[i] = append([]byte(nil), value...)
	} else {
		leaf.keys = insertAt(leaf.keys, i, append([]byte(nil), key...))
		leaf.values = insertAtBytes(leaf.values, i, append([]byte(nil), value...))
	}

	encoded := encodeLeaf(leaf)
	if len(encoded) <= t.bodySize {
		return t.writeLeaf(leafID, leaf)
	}
	return t.splitLeafAndPropagate(path, leafID, leaf)
}

type pathEntry struct {
	id   cachemodel.PageID
	node *internalNode
}

func (t *Tree) findLeafWithPath(key []byte) ([]pathEntry, cachemodel.PageID, *leafNode, error) {
	var path []pathEntry
	id := t.root
	for {
		body, err := t.readNodeBody(id)
		if err != nil {
			return nil, 0, nil, err
		}
		if isLeafPage(body) {
			leaf, err := decodeLeaf(body)
			if err != nil {
				return nil, 0, nil, err
			}
			return path, id, leaf, nil
		}
		internal, err := decodeInternal(body)
		if err != nil {
			return nil, 0, nil, err
		}
		path = append(path, pathEntry{id: id, node: internal})
		i := sort.Search(len(internal.keys), func(i int) bool { return bytes.Compare(internal.keys[i], key) > 0 })
		id = internal.children[i]
	}
}

func insertAt(s [][]byte, i int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertAtBytes(s [][]byte, i int, v []byte) [][]byte {
	return insertAt(s, i, v)
}

func insertChildAt(s []cachemodel.PageID, i int, v cachemodel.PageID) []cachemodel.PageID {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// splitLeafAndPropagate splits an over-full leaf and pushes the new
// separator key up the path, splitting internal nodes as needed and
// growing a new root if the split reaches the top.
func (t *Tree) splitLeafAndPropagate(path []pathEntry, leafID cachemodel.PageID, leaf *leafNode) error {
	mid := len(leaf.keys) / 2
	right := &leafNode{
		keys:   append([][]byte(nil), leaf.keys[mid:]...),
		values: append([][]byte(nil), leaf.values[mid:]...),
		next:   leaf.next,
	}
	left := &leafNode{
		keys:   append([][]byte(nil), leaf.keys[:mid]...),
		values: append([][]byte(nil), leaf.values[:mid]...),
	}
	rightID, err := t.allocLeaf()
	if err != nil {
		return err
	}
	left.next = rightID
	if err := t.writeLeaf(rightID, right); err != nil {
		return err
	}
	if err := t.writeLeaf(leafID, left); err != nil {
		return err
	}

	sepKey := right.keys[0]
	return t.propagateSplit(path, sepKey, rightID)
}

// propagateSplit inserts (sepKey, rightID) into the parent internal node,
// splitting it (and its own ancestors) as necessary.
func (t *Tree) propagateSplit(path []pathEntry, sepKey []byte, rightID cachemodel.PageID) error {
	if len(path) == 0 {
		// The leaf that split was the root: grow a new internal root.
		newRoot := &internalNode{
			keys:     [][]byte{sepKey},
			children: []cachemodel.PageID{t.root, rightID},
		}
		newRootID, err := t.allocInternal()
		if err != nil {
			return err
		}
		if err := t.writeInternal(newRootID, newRoot); err != nil {
			return err
		}
		t.root = newRootID
		return nil
	}

	parent := path[len(path)-1]
	i := sort.Search(len(parent.node.keys), func(i int) bool { return bytes.Compare(parent.node.keys[i], sepKey) > 0 })
	parent.node.keys = insertAt(parent.node.keys, i, sepKey)
	parent.node.children = insertChildAt(parent.node.children, i+1, rightID)

	encoded := encodeInternal(parent.node)
	if len(encoded) <= t.bodySize {
		return t.writeInternal(parent.id, parent.node)
	}
	return t.splitInternalAndPropagate(path[:len(path)-1], parent.id, parent.node)
}

func (t *Tree) splitInternalAndPropagate(path []pathEntry, id cachemodel.PageID, n *internalNode) error {
	mid := len(n.keys) / 2
	sepKey := n.keys[mid]

	left := &internalNode{
		keys:     append([][]byte(nil), n.keys[:mid]...),
		children: append([]cachemodel.PageID(nil), n.children[:mid+1]...),
	}
	right := &internalNode{
		keys:     append([][]byte(nil), n.keys[mid+1:]...),
		children: append([]cachemodel.PageID(nil), n.children[mid+1:]...),
	}
	rightID, err := t.allocInternal()
	if err != nil {
		return err
	}
	if err := t.writeInternal(rightID, right); err != nil {
		return err
	}
	if err := t.writeInternal(id, left); err != nil {
		return err
	}
	return t.propagateSplit(path, sepKey, rightID)
}

// ─── scan ────────────────────────────────────────────────────────────────

// ScanRange walks leaf entries in key order starting at the leftmost leaf
// containing keys ≥ startKey, stopping either when a key ≥ endKey is
// reached (endKey == nil means "no upper bound") or fn returns false.
func (t *Tree) ScanRange(startKey, endKey []byte, fn func(key, value []byte) bool) error {
	id, err := t.leftmostLeafFor(startKey)
	if err != nil {
		return err
	}
	for id.Valid() {
		body, err := t.readNodeBody(id)
		if err != nil {
			return err
		}
		leaf, err := decodeLeaf(body)
		if err != nil {
			return err
		}
		// Hold a pin on the leaf while its entries are handed to fn.
		if _, err := t.mem.Pin(id); err != nil {
			return err
		}
		stop := false
		for i, k := range leaf.keys {
			if bytes.Compare(k, startKey) < 0 {
				continue
			}
			if endKey != nil && bytes.Compare(k, endKey) >= 0 {
				stop = true
				break
			}
			if !fn(k, leaf.values[i]) {
				stop = true
				break
			}
		}
		if err := t.mem.Unpin(id, false); err != nil {
			return err
		}
		if stop {
			return nil
		}
		id = leaf.next
	}
	return nil
}

func (t *Tree) leftmostLeafFor(key []byte) (cachemodel.PageID, error) {
	id := t.root
	for {
		body, err := t.readNodeBody(id)
		if err != nil {
			return 0, err
		}
		if isLeafPage(body) {
			return id, nil
		}
		internal, err := decodeInternal(body)
		if err != nil {
			return 0, err
		}
		i := sort.Search(len(internal.keys), func(i int) bool { return bytes.Compare(internal.keys[i], key) > 0 })
		id = internal.children[i]
	}
}

// Count returns the number of entries in the tree, via a full scan.
func (t *Tree) Count() (int, error) {
	n := 0
	err := t.ScanRange(nil, nil, func(_, _ []byte) bool { n++; return true })
	return n, err
}

// FreeAllPages releases every page owned by this tree back to the store's
// free list.
func (t *Tree) FreeAllPages() error {
	return t.freeSubtree(t.root)
}

func (t *Tree) freeSubtree(id cachemodel.PageID) error {
	body, err := t.readNodeBody(id)
	if err != nil {
		return err
	}
	if !isLeafPage(body) {
		internal, err := decodeInternal(body)
		if err != nil {
			return err
		}
		for _, child := range internal.children {
			if err := t.freeSubtree(child); err != nil {
				return err
			}
		}
	}
	return t.store.FreePage(id)
}
