package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"reelsmith/internal/fileutil"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

// Metadata keys stamped on the backup recorded by Rollback.
const (
	MetaRollbackBackup = "rollback_backup"
	MetaRolledBackTo   = "rolled_back_to"
)

// Rollback restores the live file at path to the content of versionID. When
// the live file exists its current state is registered first as a backup
// version, so the rollback itself can be undone. A missing version or
// content copy is a normal outcome reported as false with a nil error; I/O
// failures are returned as errors.
func (r *Registry) Rollback(ctx context.Context, path, versionID string) (bool, error) {
	identity, err := Identity(path)
	if err != nil {
		return false, err
	}
	logger := logging.WithContext(ctx, r.logger).With(
		logging.String(logging.FieldArtifactPath, identity),
		logging.String(logging.FieldVersionID, versionID),
	)

	restored := false
	err = r.withWriteLock(ctx, func(idx index) (bool, error) {
		key := idx.keyFor(identity, path)
		target, ok := idx.find(key, versionID)
		if !ok {
			logging.WarnWithContext(logger, "rollback target not found", "artifact_rollback",
				logging.String("outcome", "version_missing"),
				logging.String(logging.FieldErrorHint, "list versions with `reelsmith artifacts versions <path>`"),
				logging.String(logging.FieldImpact, "artifact left unchanged"),
			)
			return false, nil
		}

		content, ok, err := r.locateContent(ctx, target)
		if err != nil {
			return false, err
		}
		if !ok {
			logging.WarnWithContext(logger, "rollback content copy missing", "artifact_rollback",
				logging.String("outcome", "content_missing"),
				logging.Bool("degraded", target.Degraded()),
				logging.String(logging.FieldErrorHint, "the version was registered without a stored copy"),
				logging.String(logging.FieldImpact, "artifact left unchanged"),
			)
			return false, nil
		}

		changed := false
		if _, err := os.Stat(identity); err == nil {
			parent := ""
			if versions := idx[key]; len(versions) > 0 {
				parent = versions[len(versions)-1].VersionID
			}
			backup, err := r.registerLocked(ctx, idx, key, identity, target.Type, target.JobID, parent, map[string]any{
				MetaRollbackBackup: true,
				MetaRolledBackTo:   versionID,
			}, true)
			if err != nil {
				return false, err
			}
			changed = true
			logger.Info("rollback backup recorded",
				logging.String(logging.FieldEventType, "artifact_rollback"),
				logging.String("backup_version_id", backup.VersionID),
			)
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, services.Wrap(services.ErrExternalTool, "registry", "rollback", "stat live artifact", err)
		}

		digest, err := fileutil.ReplaceFile(content, identity)
		if err != nil {
			return changed, services.Wrap(services.ErrExternalTool, "registry", "rollback", "restore content copy", err)
		}
		if target.Hash != "" && digest != target.Hash {
			return changed, services.Wrap(services.ErrValidation, "registry", "rollback", "restored content does not match recorded hash", nil)
		}
		restored = true
		logger.Info("artifact rolled back",
			logging.String(logging.FieldEventType, "artifact_rollback"),
			logging.String("outcome", "restored"),
		)
		return changed, nil
	})
	if err != nil {
		return false, err
	}
	return restored, nil
}

// locateContent returns the local content copy of v, fetching it from the
// mirror when only the remote copy survives.
func (r *Registry) locateContent(ctx context.Context, v Version) (string, bool, error) {
	if v.Hash == "" {
		return "", false, nil
	}
	local := r.ContentPath(v)
	if _, err := os.Stat(local); err == nil {
		return local, true, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, err
	}
	if r.mirror == nil {
		return "", false, nil
	}
	if err := r.mirror.Download(ctx, filepath.Base(local), local); err != nil {
		r.logger.Debug("mirror download failed", logging.String(logging.FieldVersionID, v.VersionID), logging.Error(err))
		return "", false, nil
	}
	if err := os.Chmod(local, 0o444); err != nil {
		return "", false, err
	}
	return local, true, nil
}
