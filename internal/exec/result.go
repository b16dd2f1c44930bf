package exec

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// Result is the outcome of a single command invocation. It is a plain
// value; callers never mutate it.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// failure synthesizes a Result for an invocation that never reached a
// process exit status.
func failure(code int, msg string) Result {
	return Result{Stderr: msg, ExitCode: code}
}

// lineCollector accumulates one output stream while forwarding each line
// to an optional callback. Trailing newlines are normalized away so a
// command printing "out\n" yields Stdout == "out".
type lineCollector struct {
	buf  strings.Builder
	emit func(string)
}

func (c *lineCollector) consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if c.buf.Len() > 0 {
			c.buf.WriteByte('\n')
		}
		c.buf.WriteString(line)
		if c.emit != nil {
			c.emit(line)
		}
	}
}

func (c *lineCollector) String() string {
	return c.buf.String()
}

// drainStreams consumes stdout and stderr concurrently until both hit
// EOF. Reading the two pipes on separate goroutines prevents the child
// from blocking on a full pipe while we wait on the other one.
func drainStreams(stdout, stderr io.Reader, stream StreamHandler) (*lineCollector, *lineCollector) {
	outC := &lineCollector{}
	errC := &lineCollector{}
	if stream != nil {
		outC.emit = stream.OnStdoutLine
		errC.emit = stream.OnStderrLine
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outC.consume(stdout)
	}()
	go func() {
		defer wg.Done()
		errC.consume(stderr)
	}()
	wg.Wait()
	return outC, errC
}
