package artifacts

import (
	"errors"
	"fmt"
	"os"

	"reelsmith/internal/fileutil"
)

// VerifyResult compares a stored content copy against its recorded hash.
type VerifyResult struct {
	Version  Version
	Expected string
	Actual   string
}

// OK reports whether the stored copy still matches.
func (v VerifyResult) OK() bool {
	return v.Expected != "" && v.Expected == v.Actual
}

// Verify recomputes the digest of the stored copy of versionID.
func (r *Registry) Verify(path, versionID string) (VerifyResult, error) {
	v, ok, err := r.Version(path, versionID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return VerifyResult{}, fmt.Errorf("%s: %w", versionID, ErrVersionNotFound)
	}
	result := VerifyResult{Version: v, Expected: v.Hash}
	if v.Degraded() {
		return result, fmt.Errorf("%s has no hash: %w", versionID, ErrNoContent)
	}
	digest, _, err := fileutil.HashFile(r.ContentPath(v))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, fmt.Errorf("%s: %w", versionID, ErrNoContent)
		}
		return result, err
	}
	result.Actual = digest
	return result, nil
}
