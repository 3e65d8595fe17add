package types

// Document is a rule document as written, before defaults and validation.
// Nil numeric fields were omitted by the author.
type Document struct {
	WaitToStart  bool
	Messages     []RawRule
	ReceiveCount int     // legacy
	Replies      []Reply // legacy
}

type RawRule struct {
	FileName  string
	Delay     *int
	Repeat    *int
	WaitCount *int
}

// Reply is the legacy grouping of messages answered per received message.
type Reply struct {
	Number   int
	Messages []RawRule
}

// IntPtr is a helper for building documents in code.
func IntPtr(v int) *int { return &v }
