package lua

import (
	"fmt"
	"io"

	"github.com/samaelod/devsim/types"
)

// WriteRuleSet emits a rule script that ReadLuaDocument reads back.
// "repeat" is a Lua keyword, so it is written as a bracketed key.
func WriteRuleSet(w io.Writer, rs types.RuleSet) error {
	bw := &errWriter{w: w}

	bw.println("local config = {}")
	bw.println()

	bw.println("-- GLOBALS ----------------------------------------")
	bw.printf("config.wait_to_start = %t\n", rs.WaitToStart)
	bw.println()

	bw.println("-- MESSAGES ----------------------------------------")
	bw.println("config.messages = {")
	for _, r := range rs.Rules {
		bw.println("\t{")
		bw.printf("\t\tfile_name = %q,\n", r.Pattern)
		bw.printf("\t\tdelay = %d,\n", r.DelayMs)
		bw.printf("\t\t[\"repeat\"] = %d,\n", r.Repeat)
		bw.printf("\t\twait_count = %d,\n", r.WaitCount)
		bw.println("\t},")
	}
	bw.println("}")
	bw.println()
	bw.println("return config")

	return bw.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) println(args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintln(e.w, args...)
}
