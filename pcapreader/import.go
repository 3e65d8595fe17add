package pcapreader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/samaelod/devsim/types"
)

const DefaultPrefix = "capture"

// Import writes every device payload of c to outDir as
// <prefix>.<NNNN>.bin and returns a rule set replaying them: each payload
// is sent once after the number of peer payloads that preceded it in the
// capture. The delay records the gap to the previous device payload of the
// same trigger.
func Import(c *Capture, outDir, prefix string) (types.RuleSet, []string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return types.RuleSet{}, nil, err
	}

	var (
		rs        types.RuleSet
		files     []string
		peerSeen  int
		lastGroup = -1
		last      Segment
	)
	for _, seg := range c.Segments {
		if seg.Direction == FromPeer {
			peerSeen++
			continue
		}

		name := fmt.Sprintf("%s.%04d.bin", prefix, len(files)+1)
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, seg.Payload, 0o644); err != nil {
			return types.RuleSet{}, files, fmt.Errorf("write payload: %w", err)
		}
		files = append(files, path)

		delay := 0
		if lastGroup == peerSeen {
			delay = int(seg.Time.Sub(last.Time).Milliseconds())
			if delay < 0 {
				delay = 0
			}
		}
		lastGroup = peerSeen
		last = seg

		rs.Rules = append(rs.Rules, types.Rule{
			Pattern:   regexp.QuoteMeta(name) + "$",
			DelayMs:   delay,
			Repeat:    1,
			WaitCount: peerSeen,
		})
	}
	return rs, files, nil
}
