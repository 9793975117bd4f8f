// Package visual compares screenshots against stored baselines and keeps a
// versioned baseline history.
package visual

import (
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
)

// Config controls comparison and baseline storage.
type Config struct {
	BaselineDir string `yaml:"baseline_dir"`
	// DiffDir receives diff images; empty means {BaselineDir}/.diffs.
	DiffDir   string    `yaml:"diff_dir"`
	Algorithm Algorithm `yaml:"algorithm"`

	// PixelTolerance is the largest per-channel delta treated as equal.
	PixelTolerance uint8 `yaml:"pixel_tolerance"`
	// MaxDiffPercentage is the pixel algorithm's pass limit, in percent.
	MaxDiffPercentage   float64 `yaml:"max_diff_percentage"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	IgnoreRegions []image.Rectangle `yaml:"-"`
	GenerateDiff  bool              `yaml:"generate_diff"`

	Versioning  bool `yaml:"versioning"`
	MaxVersions int  `yaml:"max_versions"` // 0 keeps every version file

	// Recorded on new baseline versions.
	Commit string `yaml:"-"`
	Author string `yaml:"-"`
	Branch string `yaml:"-"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		BaselineDir:         "baselines",
		Algorithm:           AlgorithmPixel,
		MaxDiffPercentage:   0.1,
		SimilarityThreshold: 0.95,
		GenerateDiff:        true,
		Versioning:          true,
		MaxVersions:         10,
	}
}

// Result is the outcome of one comparison.
type Result struct {
	Name           string            `json:"name"`
	Matches        bool              `json:"matches"`
	Similarity     float64           `json:"similarity"`
	DiffPercentage float64           `json:"diffPercentage"`
	DiffPixelCount int               `json:"diffPixelCount"`
	DiffRegions    []image.Rectangle `json:"diffRegions,omitempty"`
	DiffImagePath  string            `json:"diffImagePath,omitempty"`
	BaselineHash   string            `json:"baselineHash"`
	ActualHash     string            `json:"actualHash"`
	ComparisonTime time.Duration     `json:"comparisonTime"`
	NewBaseline    bool              `json:"newBaseline"`
	Algorithm      Algorithm         `json:"algorithm"`
}

// Engine compares screenshots with baselines on an afero filesystem. It is
// safe for concurrent use; writes to one baseline name are serialised.
type Engine struct {
	cfg   Config
	store store
	log   logrus.FieldLogger
	now   func() time.Time
	locks keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides time.Now for version timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine storing baselines on fs.
func New(fs afero.Fs, cfg Config, opts ...Option) *Engine {
	if cfg.BaselineDir == "" {
		cfg.BaselineDir = DefaultConfig().BaselineDir
	}
	if cfg.DiffDir == "" {
		cfg.DiffDir = filepath.Join(cfg.BaselineDir, ".diffs")
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	e := &Engine{
		cfg:   cfg,
		store: store{fs: fs, dir: cfg.BaselineDir},
		log:   logger.Component("visual"),
		now:   time.Now,
		locks: keyedMutex{locks: make(map[string]*refLock)},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Compare checks actual against the baseline for name. The first comparison
// for a name stores actual as the baseline and passes. Errors are returned
// only for storage and decoding failures.
func (e *Engine) Compare(name string, actual *core.Screenshot) (Result, error) {
	start := time.Now()
	if err := validName(name); err != nil {
		return Result{}, err
	}
	img, err := actual.Image()
	if err != nil {
		return Result{}, fmt.Errorf("compare %s: %w", name, err)
	}

	unlock := e.locks.Lock(name)
	defer unlock()

	baseline, ok, err := e.store.loadCurrent(name)
	if err != nil {
		return Result{}, err
	}
	res := Result{Name: name, Algorithm: e.cfg.Algorithm, ActualHash: hashImage(img)}
	if !ok {
		v, err := e.save(name, img)
		if err != nil {
			return Result{}, err
		}
		res.Matches = true
		res.Similarity = 1
		res.NewBaseline = true
		res.BaselineHash = v.Hash
		res.ComparisonTime = time.Since(start)
		e.log.WithField("name", name).Info("Stored new baseline")
		return res, nil
	}
	res.BaselineHash = hashImage(baseline)

	a, b := cloneNRGBA(baseline), cloneNRGBA(img)
	applyMask(a, e.cfg.IgnoreRegions)
	applyMask(b, e.cfg.IgnoreRegions)

	var diff *pixelDiff
	if sameSize(a, b) {
		d := diffPixels(a, b, e.cfg.PixelTolerance)
		diff = &d
		res.DiffPixelCount = d.count
		res.DiffPercentage = d.percentage()
	} else {
		res.DiffPercentage = 100
	}

	switch e.cfg.Algorithm {
	case AlgorithmPerceptualHash:
		res.Similarity = hashSimilarity(perceptualHash(a), perceptualHash(b))
	case AlgorithmSSIM:
		res.Similarity = ssim(a, b)
	case AlgorithmHistogram:
		res.Similarity = histogramSimilarity(a, b)
	default:
		if diff != nil {
			res.Similarity = 1 - res.DiffPercentage/100
		}
	}
	if e.cfg.Algorithm == AlgorithmPixel {
		res.Matches = diff != nil && res.DiffPercentage <= e.cfg.MaxDiffPercentage
	} else {
		res.Matches = res.Similarity >= e.cfg.SimilarityThreshold
	}

	if diff != nil {
		res.DiffRegions = diffRegions(*diff)
	}
	if !res.Matches && e.cfg.GenerateDiff {
		var out *image.NRGBA
		if diff != nil {
			out = renderDiff(b, *diff, res.DiffRegions)
		} else {
			out = renderSizeDiff(b, a.Rect.Size())
		}
		path, err := e.writeDiff(name, out)
		if err != nil {
			return Result{}, err
		}
		res.DiffImagePath = path
	}
	res.ComparisonTime = time.Since(start)

	e.log.WithFields(logrus.Fields{
		"name":       name,
		"algorithm":  res.Algorithm.String(),
		"similarity": res.Similarity,
		"diff_pct":   res.DiffPercentage,
		"matches":    res.Matches,
	}).Debug("Compared screenshot")
	return res, nil
}

// UpdateBaseline replaces the baseline for name with shot, recording a new
// version when versioning is on.
func (e *Engine) UpdateBaseline(name string, shot *core.Screenshot) (BaselineVersion, error) {
	if err := validName(name); err != nil {
		return BaselineVersion{}, err
	}
	img, err := shot.Image()
	if err != nil {
		return BaselineVersion{}, fmt.Errorf("update baseline %s: %w", name, err)
	}
	unlock := e.locks.Lock(name)
	defer unlock()
	return e.save(name, img)
}

// Versions lists the recorded history of name, oldest first.
func (e *Engine) Versions(name string) ([]BaselineVersion, error) {
	m, err := e.Manifest(name)
	if err != nil {
		return nil, err
	}
	return m.Versions, nil
}

// Manifest returns the history of name. It fails with core.ErrNotFound when
// name has no recorded versions.
func (e *Engine) Manifest(name string) (Manifest, error) {
	if err := validName(name); err != nil {
		return Manifest{}, err
	}
	unlock := e.locks.Lock(name)
	defer unlock()
	m, ok, err := e.store.loadManifest(name)
	if err != nil {
		return Manifest{}, err
	}
	if !ok {
		return Manifest{}, core.ErrNotFound.WithMessage("no baseline history for " + name)
	}
	return m, nil
}

// Baselines lists the names that have a current baseline.
func (e *Engine) Baselines() ([]string, error) {
	return e.store.names()
}

// Rollback makes version the current baseline of name. Versions above the
// current pointer are rejected.
func (e *Engine) Rollback(name string, version int) (BaselineVersion, error) {
	if err := validName(name); err != nil {
		return BaselineVersion{}, err
	}
	unlock := e.locks.Lock(name)
	defer unlock()

	m, ok, err := e.store.loadManifest(name)
	if err != nil {
		return BaselineVersion{}, err
	}
	if !ok {
		return BaselineVersion{}, core.ErrNotFound.WithMessage("no baseline history for " + name)
	}
	if version <= 0 || version > m.Current {
		return BaselineVersion{}, core.ErrInvalidVersion.WithMessage(
			fmt.Sprintf("cannot roll %s back to v%d (current v%d)", name, version, m.Current))
	}
	entry, ok := m.find(version)
	if !ok {
		return BaselineVersion{}, core.ErrNotFound.WithMessage(fmt.Sprintf("%s has no v%d", name, version))
	}
	data, err := afero.ReadFile(e.store.fs, e.store.versionPath(name, version))
	if err != nil {
		return BaselineVersion{}, core.ErrNotFound.WithMessage(
			fmt.Sprintf("%s v%d file unavailable", name, version)).WithCause(err)
	}
	if err := e.store.writeFile(e.store.currentPath(name), data); err != nil {
		return BaselineVersion{}, err
	}
	m.Current = version
	if err := e.store.saveManifest(m); err != nil {
		return BaselineVersion{}, err
	}
	e.log.WithFields(logrus.Fields{"name": name, "version": version}).Info("Rolled back baseline")
	return entry, nil
}

// save writes img as the current baseline. Callers hold the name lock.
func (e *Engine) save(name string, img *image.NRGBA) (BaselineVersion, error) {
	data, err := encodePNG(img)
	if err != nil {
		return BaselineVersion{}, err
	}
	if err := e.store.writeFile(e.store.currentPath(name), data); err != nil {
		return BaselineVersion{}, err
	}
	v := BaselineVersion{
		Hash:      hashImage(img),
		CreatedAt: e.now().UTC(),
		Commit:    e.cfg.Commit,
		Author:    e.cfg.Author,
		Branch:    e.cfg.Branch,
	}
	if !e.cfg.Versioning {
		return v, nil
	}

	m, _, err := e.store.loadManifest(name)
	if err != nil {
		return BaselineVersion{}, err
	}
	v.Version = m.latest() + 1
	if err := e.store.writeFile(e.store.versionPath(name, v.Version), data); err != nil {
		return BaselineVersion{}, err
	}
	m.Name = name
	m.Versions = append(m.Versions, v)
	m.Current = v.Version
	if err := e.store.saveManifest(m); err != nil {
		return BaselineVersion{}, err
	}
	e.prune(m)
	return v, nil
}

// prune removes the oldest version files beyond MaxVersions. Manifest
// entries stay so the history remains complete.
func (e *Engine) prune(m Manifest) {
	if e.cfg.MaxVersions <= 0 || len(m.Versions) <= e.cfg.MaxVersions {
		return
	}
	for _, v := range m.Versions[:len(m.Versions)-e.cfg.MaxVersions] {
		if v.Version == m.Current {
			continue
		}
		err := e.store.fs.Remove(e.store.versionPath(m.Name, v.Version))
		if err != nil && !isNotExist(err) {
			e.log.WithError(err).WithField("version", v.Version).Warn("Failed to prune baseline version")
		}
	}
}

func (e *Engine) writeDiff(name string, img *image.NRGBA) (string, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", err
	}
	path := filepath.Join(e.cfg.DiffDir, name+".diff.png")
	if err := e.store.writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	draw.Draw(dst, dst.Rect, src, src.Rect.Min, draw.Src)
	return dst
}

// keyedMutex hands out one mutex per key and drops it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
