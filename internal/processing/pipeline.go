package processing

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ReportFunc receives pipeline progress: a percentage and a step label.
type ReportFunc func(progress int, step string)

// Pipeline converts a stored scan into an STL mesh written at outputPath.
type Pipeline interface {
	Name() string
	Run(ctx context.Context, scanPath, outputPath string, report ReportFunc) error
}

// CommandPipeline delegates conversion to an external program. Arguments may
// contain {input} and {output}; without arguments the two paths are passed
// in that order. Lines of the form "PROGRESS <percent> <step>" on stdout are
// forwarded as progress.
type CommandPipeline struct {
	Command string
	Args    []string
}

// ParseCommand splits a command line such as "python3 convert.py {input}
// {output}" on whitespace.
func ParseCommand(line string) (*CommandPipeline, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("empty pipeline command")
	}
	return &CommandPipeline{Command: fields[0], Args: fields[1:]}, nil
}

func (p *CommandPipeline) Name() string { return p.Command }

func (p *CommandPipeline) Run(ctx context.Context, scanPath, outputPath string, report ReportFunc) error {
	args := p.Args
	if len(args) == 0 {
		args = []string{"{input}", "{output}"}
	}
	r := strings.NewReplacer("{input}", scanPath, "{output}", outputPath)
	expanded := make([]string, len(args))
	for i, a := range args {
		expanded[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, p.Command, expanded...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Command, err)
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		if pct, step, ok := ParseProgressLine(sc.Text()); ok {
			report(pct, step)
		} else if line := strings.TrimSpace(sc.Text()); line != "" {
			logger.Debugf("[%s] %s", p.Command, line)
		}
	}
	io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", p.Command, err, lastLine(msg))
		}
		return fmt.Errorf("%s: %w", p.Command, err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("%s produced no mesh: %w", p.Command, err)
	}
	return nil
}

// ParseProgressLine parses "PROGRESS <percent> <step>".
func ParseProgressLine(line string) (int, string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "PROGRESS" {
		return 0, "", false
	}
	pct, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, "", false
	}
	pct = max(0, min(100, pct))
	return int(pct), strings.Join(fields[2:], " "), true
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
