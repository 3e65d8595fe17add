package lua

import (
	"fmt"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/devsim/types"
)

// luaDocument mirrors the table returned by a rule script. Keys are
// snake_case in Lua and mapped to these fields by gluamapper.
type luaDocument struct {
	WaitToStart  bool
	Messages     []luaMessage
	ReceiveCount int
	Replies      []luaReply
}

type luaMessage struct {
	FileName  string
	Delay     *int
	Repeat    *int
	WaitCount *int
}

type luaReply struct {
	ReplyNumber int
	Messages    []luaMessage
}

func ReadLuaDocument(path string) (*types.Document, error) {
	L := lua.NewState()
	defer L.Close()

	// Execute Lua file
	if err := L.DoFile(path); err != nil {
		return nil, err
	}

	// Lua file returns config table
	lv := L.Get(-1)
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua file did not return a table")
	}

	var doc luaDocument

	// Map Lua table → Go struct
	if err := gluamapper.Map(table, &doc); err != nil {
		return nil, err
	}

	out := &types.Document{
		WaitToStart:  doc.WaitToStart,
		Messages:     convertMessages(doc.Messages),
		ReceiveCount: doc.ReceiveCount,
	}
	for _, r := range doc.Replies {
		out.Replies = append(out.Replies, types.Reply{
			Number:   r.ReplyNumber,
			Messages: convertMessages(r.Messages),
		})
	}
	return out, nil
}

func convertMessages(in []luaMessage) []types.RawRule {
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
