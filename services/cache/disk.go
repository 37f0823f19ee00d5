package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// diskEntry is the on-disk envelope for one cached value. The logical key is
// stored alongside the value so prefix invalidation can match files whose
// names are hashes.
type diskEntry struct {
	Key        string          `json:"key"`
	CreatedAt  time.Time       `json:"createdAt"`
	TTLSeconds int64           `json:"ttlSeconds"`
	Value      json.RawMessage `json:"value"`
}

// diskTier persists cache entries as one JSON file per key under dir.
type diskTier struct {
	mu  sync.Mutex
	fs  afero.Fs
	dir string
}

func newDiskTier(fs afero.Fs, dir string) *diskTier {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &diskTier{fs: fs, dir: dir}
}

func (d *diskTier) path(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".json")
}

func (d *diskTier) get(key string, now time.Time) ([]byte, time.Time, time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := afero.ReadFile(d.fs, d.path(key))
	if err != nil {
		return nil, time.Time{}, 0, false
	}
	var e diskEntry
	if err := json.Unmarshal(data, &e); err != nil {
		// Corrupt entries degrade to a miss and are dropped.
		_ = d.fs.Remove(d.path(key))
		return nil, time.Time{}, 0, false
	}
	ttl := time.Duration(e.TTLSeconds) * time.Second
	if now.Sub(e.CreatedAt) > ttl {
		_ = d.fs.Remove(d.path(key))
		return nil, time.Time{}, 0, false
	}
	return e.Value, e.CreatedAt, ttl, true
}

func (d *diskTier) put(key string, value []byte, now time.Time, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(diskEntry{
		Key:        key,
		CreatedAt:  now,
		TTLSeconds: int64(ttl / time.Second),
		Value:      value,
	})
	if err != nil {
		return err
	}
	return afero.WriteFile(d.fs, d.path(key), data, 0o644)
}

// sweep removes expired and corrupt entries, returning how many files were
// dropped. Reads already evict lazily; the sweep catches keys nobody asks
// for anymore.
func (d *diskTier) sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	infos, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		full := filepath.Join(d.dir, info.Name())
		data, err := afero.ReadFile(d.fs, full)
		if err != nil {
			continue
		}
		var e diskEntry
		if err := json.Unmarshal(data, &e); err != nil {
			if d.fs.Remove(full) == nil {
				removed++
			}
			continue
		}
		if now.Sub(e.CreatedAt) > time.Duration(e.TTLSeconds)*time.Second {
			if d.fs.Remove(full) == nil {
				removed++
			}
		}
	}
	return removed
}

func (d *diskTier) invalidate(prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	infos, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		return
	}
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		full := filepath.Join(d.dir, info.Name())
		data, err := afero.ReadFile(d.fs, full)
		if err != nil {
			continue
		}
		var e diskEntry
		if err := json.Unmarshal(data, &e); err != nil {
			_ = d.fs.Remove(full)
			continue
		}
		if strings.HasPrefix(e.Key, prefix) {
			_ = d.fs.Remove(full)
		}
	}
}
