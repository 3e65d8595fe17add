// Package rules loads rule documents and normalizes them into a RuleSet.
//
// Two document formats are accepted, chosen by file extension: YAML
// (.yaml, .yml) in the layout of the original device tool, and Lua (.lua)
// scripts returning a table. Both decode into a types.Document which
// Normalize turns into an immutable types.RuleSet.
package rules

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/samaelod/devsim/lua"
	"github.com/samaelod/devsim/types"
)

var (
	ErrNoMessages    = errors.New("document defines no Messages or Replies")
	ErrUnknownFormat = errors.New("unknown rule document format")
)

const (
	defaultRepeat    = 1
	defaultDelay     = 0
	defaultWaitCount = 0
)

// Load reads and normalizes the rule document at path.
func Load(path string) (types.RuleSet, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return types.RuleSet{}, err
	}
	rs, err := Normalize(doc)
	if err != nil {
		return types.RuleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// LoadDocument reads the raw document without applying defaults.
func LoadDocument(path string) (*types.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ReadYAMLFile(path)
	case ".lua":
		doc, err := lua.ReadLuaDocument(path)
		if err != nil {
			return nil, fmt.Errorf("lua document %s: %w", path, err)
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
}

// Normalize applies defaults, converts legacy replies and validates every rule.
func Normalize(doc *types.Document) (types.RuleSet, error) {
	if doc == nil {
		return types.RuleSet{}, ErrNoMessages
	}

	raw := doc.Messages
	waits := make([]*int, len(raw))
	if len(raw) == 0 && len(doc.Replies) > 0 {
		raw, waits = flattenReplies(doc.ReceiveCount, doc.Replies)
	}
	if len(raw) == 0 {
		return types.RuleSet{}, ErrNoMessages
	}

	rs := types.RuleSet{
		WaitToStart: doc.WaitToStart,
		Rules:       make([]types.Rule, 0, len(raw)),
	}
	for i, m := range raw {
		if waits[i] != nil && m.WaitCount == nil {
			m.WaitCount = waits[i]
		}
		r, err := normalizeRule(m)
		if err != nil {
			return types.RuleSet{}, fmt.Errorf("message %d: %w", i+1, err)
		}
		rs.Rules = append(rs.Rules, r)
	}
	return rs, nil
}

func normalizeRule(m types.RawRule) (types.Rule, error) {
	r := types.Rule{
		Pattern:   m.FileName,
		DelayMs:   valueOr(m.Delay, defaultDelay),
		Repeat:    valueOr(m.Repeat, defaultRepeat),
		WaitCount: valueOr(m.WaitCount, defaultWaitCount),
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return r, errors.New("missing file name")
	}
	if _, err := regexp.Compile(r.Pattern); err != nil {
		return r, fmt.Errorf("file name %q: %w", r.Pattern, err)
	}
	if r.DelayMs < 0 {
		return r, fmt.Errorf("delay must be >= 0, got %d", r.DelayMs)
	}
	if r.WaitCount < 0 {
		return r, fmt.Errorf("waitCount must be >= 0, got %d", r.WaitCount)
	}
	return r, nil
}

// flattenReplies maps the legacy reply list onto trigger counts: reply i
// answers the (i+1)-th received message while i < receiveCount, the rest
// start once the last counted message arrived.
func flattenReplies(receiveCount int, replies []types.Reply) ([]types.RawRule, []*int) {
	if receiveCount < 0 {
		receiveCount = 0
	}
	var (
		raw   []types.RawRule
		waits []*int
	)
	for i, reply := range replies {
		wait := receiveCount
		if i < receiveCount {
			wait = i + 1
		}
		for _, m := range reply.Messages {
			raw = append(raw, m)
			waits = append(waits, types.IntPtr(wait))
		}
	}
	return raw, waits
}

func valueOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
