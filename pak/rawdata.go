package pak

import (
	"fmt"

	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

// cachedRawData is one entry in the manager-level cached-raw-data table
// (§4.7 "an additional map handle -> {full_uncompressed_buffer, size}"):
// the full decompressed bytes for one open handle, fetched once and reused
// by every later GetCachedFileData call against that handle.
type cachedRawData struct {
	buf []byte
}

// GetCachedFileData returns the full decompressed contents of the entry
// behind handle, fetching and caching it on first call (§6.4
// get_cached_file_data). Concurrent first calls for the same handle share
// one fetch (property 7): the loser's would-be read is never issued, and a
// warning notes the race the way §4.7 specifies.
func (m *Manager) GetCachedFileData(handle int) ([]byte, error) {
	pf, err := m.pseudoFileForHandle(handle)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d", handle)
	v, err, shared := m.rawSF.Do(key, func() (interface{}, error) {
		blob, err := pf.data.materialize()
		if err != nil {
			return nil, err
		}
		m.rawMu.Lock()
		m.raw[handle] = &cachedRawData{buf: blob}
		m.rawMu.Unlock()
		return blob, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.log().Warn("concurrent first-read of cached file data; discarding loser", "handle", handle)
	}
	return v.([]byte), nil
}

// dropCachedFileData removes handle's entry from the raw-data table, called
// when its PseudoFile closes.
func (m *Manager) dropCachedFileData(handle int) {
	m.rawMu.Lock()
	delete(m.raw, handle)
	m.rawMu.Unlock()
}

func (m *Manager) pseudoFileForHandle(handle int) (*PseudoFile, error) {
	m.slotsMu.RLock()
	defer m.slotsMu.RUnlock()
	idx := handle - handleBase
	if idx < 0 || idx >= len(m.slots) || m.slots[idx] == nil {
		return nil, pakerr.New(pakerr.KindInvalidCall, "get-cached-file-data", "")
	}
	return m.slots[idx], nil
}
