package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// Shard selects a deterministic subset of tasks for one CI node. The zero
// value (and any shard with Total <= 1) selects every task.
type Shard struct {
	Index int
	Total int
}

// ShouldRun reports whether the task with id belongs to this shard.
func (s Shard) ShouldRun(id int) bool {
	if s.Total <= 1 {
		return true
	}
	m := id % s.Total
	if m < 0 {
		m += s.Total
	}
	return m == s.Index
}

// Enabled reports whether the shard filters anything.
func (s Shard) Enabled() bool { return s.Total > 1 }

func (s Shard) String() string {
	if !s.Enabled() {
		return "all"
	}
	return fmt.Sprintf("%d/%d", s.Index, s.Total)
}

// Validate checks 0 <= Index < Total.
func (s Shard) Validate() error {
	if s.Total < 0 || (s.Total > 0 && (s.Index < 0 || s.Index >= s.Total)) {
		return fmt.Errorf("invalid shard %d/%d: index must be in [0,%d)", s.Index, s.Total, s.Total)
	}
	return nil
}

// ParseShard parses "index/total", e.g. "0/4". An empty string or "all"
// selects every task.
func ParseShard(s string) (Shard, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return Shard{}, nil
	}
	idx, total, ok := strings.Cut(s, "/")
	if !ok {
		return Shard{}, fmt.Errorf("invalid shard %q: want index/total", s)
	}
	i, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil {
		return Shard{}, fmt.Errorf("invalid shard index %q: %w", idx, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(total))
	if err != nil {
		return Shard{}, fmt.Errorf("invalid shard total %q: %w", total, err)
	}
	if n <= 0 {
		return Shard{}, fmt.Errorf("invalid shard %q: total must be positive", s)
	}
	sh := Shard{Index: i, Total: n}
	if err := sh.Validate(); err != nil {
		return Shard{}, err
	}
	return sh, nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Shard) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler so shards can be read
// from config files and environment variables.
func (s *Shard) UnmarshalText(b []byte) error {
	v, err := ParseShard(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
