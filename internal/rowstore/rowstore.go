// Package rowstore allocates and retrieves the opaque byte blobs a Cache
// Data Tree or Pending Entries Tree entry points at — one DataRow's marshaled
// bytes, or a gap blob — each occupying its
// own page under cachemodel.FlagData. The store's AllocatePage/FreePage
// already give a reusable index pool, so this package adds only the
// marshal/unmarshal boundary and the "row too large for one page" guard.
package rowstore

import (
	"fmt"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/pagestore"
)

// Store allocates one page per row in the given underlying Page Store. A
// row's RowLink is simply its backing PageID, so no separate offset table is
// needed — this mirrors how the Link Map already treats RowLink as an
// opaque uint64 rather than a structured (page,offset) pair.
type Store struct {
	backing pagestore.Store
}

// Open wraps a Page Store (already registered in the owning Page Memory)
// for row storage. backing must serve cachemodel.FlagData.
func Open(backing pagestore.Store) *Store {
	return &Store{backing: backing}
}

// Insert writes data into a freshly allocated page and returns its link.
// data must fit within one page body; defragmentation rows and the small
// gap blobs the meta copy re-homes are all well under this bound
// in practice, so no multi-page spanning is implemented.
func (s *Store) Insert(data []byte) (cachemodel.RowLink, error) {
	id, err := s.backing.AllocatePage(cachemodel.FlagData)
	if err != nil {
		return 0, fmt.Errorf("rowstore insert: allocate: %w", err)
	}
	full := pagestore.NewPage(s.backing.PageSize(), pagestore.PageTypeOverflow, 1)
	body := pagestore.Body(full)
	if len(data) > len(body)-4 {
		return 0, fmt.Errorf("rowstore insert: row of %d bytes exceeds page capacity %d", len(data), len(body)-4)
	}
	copy(body[4:], data)
	// Length-prefix so Get can trim the zero-padded tail back to the exact
	// marshaled size.
	body[0] = byte(len(data))
	body[1] = byte(len(data) >> 8)
	body[2] = byte(len(data) >> 16)
	body[3] = byte(len(data) >> 24)
	if err := s.backing.WritePage(id, full); err != nil {
		return 0, fmt.Errorf("rowstore insert: write: %w", err)
	}
	return cachemodel.RowLink(id), nil
}

// Get returns the bytes previously inserted at link.
func (s *Store) Get(link cachemodel.RowLink) ([]byte, error) {
	id := cachemodel.PageID(link)
	full, err := s.backing.ReadPage(id)
	if err != nil {
		return nil, fmt.Errorf("rowstore get %d: %w", link, err)
	}
	body := pagestore.Body(full)
	n := int(body[0]) | int(body[1])<<8 | int(body[2])<<16 | int(body[3])<<24
	if n < 0 || n > len(body)-4 {
		return nil, fmt.Errorf("rowstore get %d: corrupt length prefix %d", link, n)
	}
	out := make([]byte, n)
	copy(out, body[4:4+n])
	return out, nil
}

// Free releases a row's page back to the store's free list.
func (s *Store) Free(link cachemodel.RowLink) error {
	if err := s.backing.FreePage(cachemodel.PageID(link)); err != nil {
		return fmt.Errorf("rowstore free %d: %w", link, err)
	}
	return nil
}
