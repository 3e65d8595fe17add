package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogLines      = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 100 * time.Millisecond
)

// Buffer keeps the last capacity log lines in memory, fans new lines out on
// a channel and appends them to an optional file in batches. It is an
// io.Writer so zerolog can write formatted events into it.
type Buffer struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	count    int

	filePath string
	file     *os.File
	ch       chan string
	fileCh   chan string
	done     chan struct{}
	closed   bool
}

func NewBuffer(filePath string, capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultLogLines
	}

	b := &Buffer{
		lines:    make([]string, capacity),
		capacity: capacity,
		filePath: filePath,
		ch:       make(chan string, 100),
		fileCh:   make(chan string, 100),
		done:     make(chan struct{}),
	}

	if err := b.openFile(); err != nil || b.file == nil {
		close(b.done)
		return b
	}

	go b.writer()

	return b
}

func (b *Buffer) openFile() error {
	if b.filePath == "" {
		return nil
	}

	if dir := filepath.Dir(b.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(b.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	b.file = f
	return nil
}

// Write stores every line of p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	if b == nil {
		return len(p), nil
	}

	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return len(p), nil
	}

	for _, line := range strings.Split(text, "\n") {
		b.lines[b.head] = line
		b.head = (b.head + 1) % b.capacity
		if b.count < b.capacity {
			b.count++
		}

		// Slow consumers lose lines, never the writer.
		select {
		case b.ch <- line:
		default:
		}
		if b.file != nil {
			select {
			case b.fileCh <- line:
			default:
			}
		}
	}

	return len(p), nil
}

func (b *Buffer) ReadAll() string {
	if b == nil {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return ""
	}

	start := 0
	if b.count >= b.capacity {
		start = b.head
	}

	var result []byte
	for i := 0; i < b.count; i++ {
		idx := (start + i) % b.capacity
		if b.lines[idx] != "" {
			result = append(result, b.lines[idx]...)
			result = append(result, '\n')
		}
	}

	return string(result)
}

// Chan delivers new lines; it is closed by Close.
func (b *Buffer) Chan() <-chan string {
	if b == nil {
		return nil
	}
	return b.ch
}

func (b *Buffer) writer() {
	defer close(b.done)

	batch := make([]string, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, msg := range batch {
			b.file.WriteString(msg + "\n")
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-b.fileCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes pending lines to the file and releases it.
func (b *Buffer) Close() {
	if b == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	close(b.fileCh)
	b.mu.Unlock()

	<-b.done

	if b.file != nil {
		b.file.Close()
	}
}
