package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"reelsmith/internal/fileutil"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

const (
	defaultIndexFile = "index.json"
	versionsDir      = "versions"
	lockFile         = "index.lock"
	lockRetryDelay   = 25 * time.Millisecond
)

var (
	// ErrVersionNotFound reports an unknown version id for a path.
	ErrVersionNotFound = errors.New("artifact version not found")
	// ErrNoContent reports a version without a stored content copy.
	ErrNoContent = errors.New("artifact content copy not found")
)

// Mirror is an optional remote copy of the versions directory.
type Mirror interface {
	Upload(ctx context.Context, name, localPath string) error
	Download(ctx context.Context, name, dest string) error
}

// Options configures a Registry. Content copies are kept unless
// DisableCopies is set; WithStoreCopy overrides either default per call.
type Options struct {
	Root          string
	IndexFile     string
	DisableCopies bool
	Mirror        Mirror
	Logger        *slog.Logger
	Now           func() time.Time
}

// Registry is the artifact version registry rooted at one directory.
type Registry struct {
	root        string
	indexPath   string
	storeCopies bool
	mirror      Mirror
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	lock *flock.Flock
}

// New opens (creating if needed) the registry at opts.Root.
func New(opts Options) (*Registry, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("registry root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve registry root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, versionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directories: %w", err)
	}
	indexFile := opts.IndexFile
	if indexFile == "" {
		indexFile = defaultIndexFile
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		root:        root,
		indexPath:   filepath.Join(root, indexFile),
		storeCopies: !opts.DisableCopies,
		mirror:      opts.Mirror,
		logger:      logging.NewComponentLogger(opts.Logger, "registry"),
		now:         now,
		lock:        flock.New(filepath.Join(root, lockFile)),
	}, nil
}

// Root returns the registry directory.
func (r *Registry) Root() string { return r.root }

// IndexPath returns the index file location.
func (r *Registry) IndexPath() string { return r.indexPath }

// Identity canonicalizes path into the registry key for that artifact.
func Identity(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("artifact path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve artifact path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// RegisterOption customizes one Register call.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	parent    string
	metadata  map[string]any
	storeCopy *bool
}

// WithParent links the new version to parentVersionID.
func WithParent(parentVersionID string) RegisterOption {
	return func(c *registerConfig) { c.parent = parentVersionID }
}

// WithMetadata attaches metadata to the new version. Values must be JSON encodable.
func WithMetadata(metadata map[string]any) RegisterOption {
	return func(c *registerConfig) {
		if c.metadata == nil {
			c.metadata = map[string]any{}
		}
		for k, v := range metadata {
			c.metadata[k] = v
		}
	}
}

// WithStoreCopy overrides the registry default for keeping a content copy.
func WithStoreCopy(store bool) RegisterOption {
	return func(c *registerConfig) { c.storeCopy = &store }
}

// Register records a new version of the artifact at path. A missing source
// file is not an error: the version is recorded without a hash and reported
// as degraded.
func (r *Registry) Register(ctx context.Context, path, artifactType, jobID string, opts ...RegisterOption) (Version, error) {
	cfg := registerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	identity, err := Identity(path)
	if err != nil {
		return Version{}, services.Wrap(services.ErrValidation, "registry", "register", "invalid artifact path", err)
	}
	metadata, err := normalizeMetadata(cfg.metadata)
	if err != nil {
		return Version{}, services.Wrap(services.ErrValidation, "registry", "register", "metadata is not JSON encodable", err)
	}
	storeCopy := r.storeCopies
	if cfg.storeCopy != nil {
		storeCopy = *cfg.storeCopy
	}

	var version Version
	err = r.withWriteLock(ctx, func(idx index) (bool, error) {
		v, err := r.registerLocked(ctx, idx, idx.keyFor(identity, path), identity, artifactType, jobID, cfg.parent, metadata, storeCopy)
		if err != nil {
			return false, err
		}
		version = v
		return true, nil
	})
	if err != nil {
		return Version{}, err
	}
	return version.clone(), nil
}

// registerLocked appends a version of the file at identity to idx[key]. The
// caller holds both locks and persists idx.
func (r *Registry) registerLocked(ctx context.Context, idx index, key, identity, artifactType, jobID, parent string, metadata map[string]any, storeCopy bool) (Version, error) {
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldArtifactPath, identity))

	hash := ""
	digest, _, err := fileutil.HashFile(identity)
	switch {
	case err == nil:
		hash = digest
	case errors.Is(err, os.ErrNotExist):
		logging.WarnWithContext(logger, "artifact missing at registration", "artifact_missing",
			logging.String("type", artifactType),
			logging.String(logging.FieldErrorHint, "the producing step wrote no file; check its output settings"),
			logging.String(logging.FieldImpact, "version recorded without hash or content copy"),
		)
	default:
		return Version{}, services.Wrap(services.ErrExternalTool, "registry", "hash artifact", identity, err)
	}

	created := r.now().UTC().Truncate(time.Microsecond)
	versionID := newVersionID(hash, created)
	for idx.hasID(versionID) {
		created = created.Add(time.Microsecond)
		versionID = newVersionID(hash, created)
	}

	version := Version{
		VersionID:       versionID,
		Path:            identity,
		Type:            artifactType,
		JobID:           jobID,
		Hash:            hash,
		ParentVersionID: parent,
		CreatedAt:       created,
		Metadata:        metadata,
	}

	if storeCopy && hash != "" {
		dst := r.ContentPath(version)
		copied, err := fileutil.CopyFileVerified(identity, dst, 0o444)
		if err != nil {
			return Version{}, services.Wrap(services.ErrExternalTool, "registry", "store content copy", identity, err)
		}
		if copied != hash {
			_ = os.Remove(dst)
			return Version{}, services.Wrap(services.ErrTransient, "registry", "store content copy", "artifact changed during registration", nil)
		}
		r.uploadMirror(ctx, logger, version, dst)
	}

	idx[key] = append(idx[key], version)
	logger.Info("artifact registered",
		logging.String(logging.FieldEventType, "artifact_registered"),
		logging.String(logging.FieldVersionID, versionID),
		logging.String("type", artifactType),
		logging.Bool("degraded", version.Degraded()),
		logging.String("parent_version_id", parent),
	)
	return version, nil
}

func (r *Registry) uploadMirror(ctx context.Context, logger *slog.Logger, v Version, localPath string) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Upload(ctx, filepath.Base(localPath), localPath); err != nil {
		logging.WarnWithContext(logger, "mirror upload failed", "mirror_upload_failed",
			logging.String(logging.FieldVersionID, v.VersionID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check registry.mirror settings and bucket reachability"),
			logging.String(logging.FieldImpact, "version is only stored locally"),
		)
	}
}

// Versions returns every version of path, oldest first.
func (r *Registry) Versions(path string) ([]Version, error) {
	identity, err := Identity(path)
	if err != nil {
		return nil, err
	}
	idx, err := r.read()
	if err != nil {
		return nil, err
	}
	versions := idx[idx.keyFor(identity, path)]
	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.clone())
	}
	return out, nil
}

// Version returns one version of path.
func (r *Registry) Version(path, versionID string) (Version, bool, error) {
	identity, err := Identity(path)
	if err != nil {
		return Version{}, false, err
	}
	idx, err := r.read()
	if err != nil {
		return Version{}, false, err
	}
	v, ok := idx.find(idx.keyFor(identity, path), versionID)
	if !ok {
		return Version{}, false, nil
	}
	return v.clone(), true, nil
}

// Latest returns the most recently registered version of path.
func (r *Registry) Latest(path string) (Version, bool, error) {
	versions, err := r.Versions(path)
	if err != nil || len(versions) == 0 {
		return Version{}, false, err
	}
	return versions[len(versions)-1], true, nil
}

// Paths lists every tracked artifact identity in sorted order.
func (r *Registry) Paths() ([]string, error) {
	idx, err := r.read()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(idx))
	for p := range idx {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths, nil
}

// ContentPath returns where the content copy of v is stored.
func (r *Registry) ContentPath(v Version) string {
	return filepath.Join(r.root, versionsDir, v.VersionID+filepath.Ext(v.Path))
}

func (r *Registry) read() (index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return loadIndex(r.indexPath)
}

// withWriteLock runs fn over a freshly loaded index and persists it when fn
// reports a change, even if fn also failed.
func (r *Registry) withWriteLock(ctx context.Context, fn func(index) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	locked, err := r.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock registry: %s is busy", r.lock.Path())
	}
	defer func() {
		_ = r.lock.Unlock()
	}()

	idx, err := loadIndex(r.indexPath)
	if err != nil {
		return err
	}
	changed, err := fn(idx)
	if changed {
		if persistErr := idx.persist(r.indexPath); persistErr != nil {
			return errors.Join(err, persistErr)
		}
	}
	return err
}

// normalizeMetadata round-trips metadata through JSON so returned versions
// match what a later read decodes.
func normalizeMetadata(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
