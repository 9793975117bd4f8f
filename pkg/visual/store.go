package visual

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

const (
	versionsDir  = ".versions"
	manifestFile = "manifest.json"
)

// BaselineVersion is one entry of a baseline's history.
type BaselineVersion struct {
	Version   int       `json:"version"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
	Commit    string    `json:"commit,omitempty"`
	Author    string    `json:"author,omitempty"`
	Branch    string    `json:"branch,omitempty"`
}

// Manifest is the persisted history of one baseline. Versions is
// append-only; Current points at the version copied to the current file.
type Manifest struct {
	Name     string            `json:"name"`
	Current  int               `json:"current"`
	Versions []BaselineVersion `json:"versions"`
}

func (m Manifest) latest() int {
	v := 0
	for _, e := range m.Versions {
		if e.Version > v {
			v = e.Version
		}
	}
	return v
}

func (m Manifest) find(version int) (BaselineVersion, bool) {
	for _, e := range m.Versions {
		if e.Version == version {
			return e, true
		}
	}
	return BaselineVersion{}, false
}

// store lays baselines out under dir:
//
//	{dir}/{name}.png
//	{dir}/.versions/{name}/v{N}.png
//	{dir}/.versions/{name}/manifest.json
type store struct {
	fs  afero.Fs
	dir string
}

func (s store) currentPath(name string) string {
	return filepath.Join(s.dir, name+".png")
}

func (s store) historyDir(name string) string {
	return filepath.Join(s.dir, versionsDir, name)
}

func (s store) versionPath(name string, v int) string {
	return filepath.Join(s.historyDir(name), fmt.Sprintf("v%d.png", v))
}

func (s store) manifestPath(name string) string {
	return filepath.Join(s.historyDir(name), manifestFile)
}

// loadCurrent returns the current baseline, or ok=false when none exists.
func (s store) loadCurrent(name string) (img *image.NRGBA, ok bool, err error) {
	return s.loadImage(s.currentPath(name))
}

func (s store) loadImage(path string) (*image.NRGBA, bool, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read baseline: %w", err)
	}
	shot, err := core.DecodeScreenshot(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode baseline %s: %w", path, err)
	}
	img, err := shot.Image()
	if err != nil {
		return nil, false, fmt.Errorf("decode baseline %s: %w", path, err)
	}
	return img, true, nil
}

func (s store) writeFile(path string, data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create baseline dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (s store) loadManifest(name string) (Manifest, bool, error) {
	data, err := afero.ReadFile(s.fs, s.manifestPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{Name: name}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("parse manifest for %s: %w", name, err)
	}
	return m, true, nil
}

func (s store) saveManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return s.writeFile(s.manifestPath(m.Name), data)
}

// names lists every baseline with a current file, sorted.
func (s store) names() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	var names []string
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".png") {
			continue
		}
		names = append(names, strings.TrimSuffix(fi.Name(), ".png"))
	}
	sort.Strings(names)
	return names, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// hashImage fingerprints decoded pixels so re-encoding does not change it.
func hashImage(img *image.NRGBA) string {
	h := sha256.New()
	fmt.Fprintf(h, "%dx%d:", img.Rect.Dx(), img.Rect.Dy())
	w := img.Rect.Dx() * 4
	for y := 0; y < img.Rect.Dy(); y++ {
		h.Write(img.Pix[y*img.Stride : y*img.Stride+w])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// validName rejects names that would escape the baseline directory.
func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) ||
		filepath.Base(name) != name {
		return fmt.Errorf("invalid baseline name %q", name)
	}
	return nil
}

func isNotExist(err error) bool { return errors.Is(err, os.ErrNotExist) }
