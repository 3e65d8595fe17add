package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"github.com/samaelod/devsim/types"
)

type yamlDocument struct {
	WaitToStart  flexBool      `yaml:"WaitToStart"`
	ReceiveCount int           `yaml:"ReceiveCount,omitempty"`
	Messages     []yamlMessage `yaml:"Messages"`
	Replies      []yamlReply   `yaml:"Replies,omitempty"`
}

type yamlMessage struct {
	FileName  string `yaml:"file name"`
	Delay     *int   `yaml:"delay"`
	Repeat    *int   `yaml:"repeat"`
	WaitCount *int   `yaml:"waitCount"`
}

type yamlReply struct {
	ReplyNumber int           `yaml:"reply_number"`
	Messages    []yamlMessage `yaml:"Messages"`
}

// flexBool accepts YAML booleans as well as yes/no/true/false/1/0 strings;
// bare Yes/No are strings under YAML 1.2.
type flexBool bool

func (b *flexBool) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: WaitToStart must be a scalar", value.Line)
	}
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "yes", "true", "1", "on", "y":
		*b = true
	case "no", "false", "0", "off", "n", "":
		*b = false
	default:
		return fmt.Errorf("line %d: invalid WaitToStart value %q", value.Line, value.Value)
	}
	return nil
}

// ReadYAMLFile parses a YAML rule document from disk.
func ReadYAMLFile(path string) (*types.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("yaml document %s: %w", path, err)
	}
	return doc, nil
}

// ParseYAML decodes a YAML rule document. An empty document yields an
// empty types.Document, which Normalize rejects.
func ParseYAML(data []byte) (*types.Document, error) {
	var doc yamlDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	out := &types.Document{
		WaitToStart:  bool(doc.WaitToStart),
		ReceiveCount: doc.ReceiveCount,
		Messages:     fromYAML(doc.Messages),
	}
	for _, r := range doc.Replies {
		out.Replies = append(out.Replies, types.Reply{
			Number:   r.ReplyNumber,
			Messages: fromYAML(r.Messages),
		})
	}
	return out, nil
}

// WriteYAML renders rs in the document layout accepted by ParseYAML.
func WriteYAML(w io.Writer, rs types.RuleSet) error {
	doc := yamlDocument{WaitToStart: flexBool(rs.WaitToStart)}
	for _, r := range rs.Rules {
		doc.Messages = append(doc.Messages, yamlMessage{
			FileName:  r.Pattern,
			Delay:     types.IntPtr(r.DelayMs),
			Repeat:    types.IntPtr(r.Repeat),
			WaitCount: types.IntPtr(r.WaitCount),
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func fromYAML(in []yamlMessage) []types.RawRule {
	out := make([]types.RawRule, 0, len(in))
	for _, m := range in {
		out = append(out, types.RawRule{
			FileName:  m.FileName,
			Delay:     m.Delay,
			Repeat:    m.Repeat,
			WaitCount: m.WaitCount,
		})
	}
	return out
}

// MarshalYAML keeps WaitToStart a plain boolean on output.
func (b flexBool) MarshalYAML() (any, error) {
	return bool(b), nil
}
