package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// Dir resolves name patterns against the regular files of one directory.
// Patterns are anchored at the start of the file name only, so "start" also
// matches "start.1.bin"; authors add "$" for exact matches.
type Dir struct {
	base string

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

func NewDir(base string) *Dir {
	if base == "" {
		base = "."
	}
	return &Dir{base: base, compiled: make(map[string]*regexp.Regexp)}
}

func (d *Dir) Base() string { return d.base }

// Resolve returns the full paths of matching files, sorted lexicographically.
func (d *Dir) Resolve(pattern string) ([]string, error) {
	re, err := d.compile(pattern)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.base)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.base, err)
	}

	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			// Symlinks are followed, directories and sockets are not payloads.
			if e.Type()&os.ModeSymlink == 0 {
				continue
			}
			info, err := os.Stat(filepath.Join(d.base, e.Name()))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		}
		if re.MatchString(e.Name()) {
			out = append(out, filepath.Join(d.base, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load reads the payload identified by id.
func (d *Dir) Load(id string) ([]byte, error) {
	return os.ReadFile(id)
}

func (d *Dir) compile(pattern string) (*regexp.Regexp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if re, ok := d.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	d.compiled[pattern] = re
	return re, nil
}
