package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"reelsmith/internal/fileutil"
)

// index maps artifact identity to its versions, oldest first.
type index map[string][]Version

func loadIndex(path string) (index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return index{}, nil
		}
		return nil, fmt.Errorf("read registry index: %w", err)
	}
	if len(data) == 0 {
		return index{}, nil
	}
	idx := index{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode registry index %s: %w", path, err)
	}
	return idx, nil
}

func (idx index) persist(path string) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry index: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write registry index: %w", err)
	}
	return nil
}

func (idx index) findGlobal(versionID string) (Version, bool) {
	for _, versions := range idx {
		for _, v := range versions {
			if v.VersionID == versionID {
				return v, true
			}
		}
	}
	return Version{}, false
}

func (idx index) hasID(versionID string) bool {
	_, ok := idx.findGlobal(versionID)
	return ok
}

// keyFor returns the key holding the history of path. Indexes written by older
// tools may key artifacts by a relative path; when only that literal key is
// present it is used so the history stays in one list.
func (idx index) keyFor(identity, path string) string {
	if _, ok := idx[identity]; ok {
		return identity
	}
	if literal := filepath.Clean(path); literal != identity {
		if _, ok := idx[literal]; ok {
			return literal
		}
	}
	return identity
}

func (idx index) find(path, versionID string) (Version, bool) {
	for _, v := range idx[path] {
		if v.VersionID == versionID {
			return v, true
		}
	}
	return Version{}, false
}
