package lua

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samaelod/devsim/types"
)

// SaveToDir writes rs as name_N.lua into dir, N being the first free number.
func SaveToDir(rs types.RuleSet, dir, originalPath string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create rules directory: %w", err)
	}

	baseName := filepath.Base(originalPath)
	ext := filepath.Ext(baseName)
	nameWithoutExt := strings.TrimSuffix(baseName, ext)

	// If original was "foo.pcap", we want "foo_1.lua"
	counter := 1
	var newPath string
	for {
		newFilename := fmt.Sprintf("%s_%d.lua", nameWithoutExt, counter)
		newPath = filepath.Join(dir, newFilename)

		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			break // Found a free name
		}
		counter++
	}

	f, err := os.OpenFile(newPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create rules file: %w", err)
	}
	defer f.Close()

	if err := WriteRuleSet(f, rs); err != nil {
		return "", fmt.Errorf("failed to write rules to lua: %w", err)
	}

	return newPath, nil
}
