package brain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kardolus/shellpilot/llm"
	"go.uber.org/zap"
)

const (
	DefaultMaxEntries     = 10
	DefaultSummarizeAt    = 5
	DefaultSummarizeBatch = 3

	entryOutputBytes = 400
	maxSummaryParts  = 20
)

type ContextConfig struct {
	MaxEntries     int
	SummarizeAt    int
	SummarizeBatch int
}

func (c ContextConfig) withDefaults() ContextConfig {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.SummarizeAt <= 0 {
		c.SummarizeAt = DefaultSummarizeAt
	}
	if c.SummarizeBatch <= 0 {
		c.SummarizeBatch = DefaultSummarizeBatch
	}
	if c.SummarizeAt > c.MaxEntries {
		c.SummarizeAt = c.MaxEntries
	}
	if c.SummarizeBatch > c.SummarizeAt {
		c.SummarizeBatch = c.SummarizeAt
	}
	return c
}

// Entry is one executed step attempt.
type Entry struct {
	StepID      string
	StepIndex   int
	Attempt     int
	Description string
	Command     string
	ExitCode    int
	Succeeded   bool
	Output      string
	Note        string
}

func (e Entry) String() string {
	status := "ok"
	if !e.Succeeded {
		status = fmt.Sprintf("failed exit=%d", e.ExitCode)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "step %d attempt %d [%s] %s: `%s`", e.StepIndex+1, e.Attempt, status, e.Description, e.Command)
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n   output: %s", strings.ReplaceAll(tail(out, entryOutputBytes), "\n", "\n   "))
	}
	if e.Note != "" {
		fmt.Fprintf(&b, "\n   note: %s", e.Note)
	}
	return b.String()
}

// Context is the bounded history handed to the brain. Once it holds
// SummarizeAt entries the oldest SummarizeBatch are condensed into the
// running summary.
type Context struct {
	mu      sync.Mutex
	cfg     ContextConfig
	llm     llm.LLM
	logger  *zap.SugaredLogger
	goal    string
	entries []Entry
	summary []string
}

func NewContext(goal string, l llm.LLM, cfg ContextConfig, logger *zap.SugaredLogger) *Context {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Context{cfg: cfg.withDefaults(), llm: l, logger: logger, goal: goal}
}

func (c *Context) Goal() string { return c.goal }

func (c *Context) Add(ctx context.Context, e Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	var batch []Entry
	if len(c.entries) >= c.cfg.SummarizeAt {
		batch = append(batch, c.entries[:c.cfg.SummarizeBatch]...)
		c.entries = append([]Entry(nil), c.entries[c.cfg.SummarizeBatch:]...)
	}
	for len(c.entries) > c.cfg.MaxEntries {
		c.entries = c.entries[1:]
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	sentence, err := c.summarize(ctx, batch)

	if err != nil {
		c.logger.Debugf("context summarization failed: %v", err)
		sentence = fmt.Sprintf("(%d earlier step attempts omitted)", len(batch))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = append(c.summary, sentence)
	if len(c.summary) > maxSummaryParts {
		c.summary = c.summary[len(c.summary)-maxSummaryParts:]
	}
}

func (c *Context) summarize(ctx context.Context, batch []Entry) (string, error) {
	if c.llm == nil {
		return "", llm.ErrNoProvider
	}
	var b strings.Builder
	b.WriteString("Summarize these shell step attempts in ONE short sentence. Mention what worked, what failed and why. Reply with the sentence only.\n\n")
	for _, e := range batch {
		b.WriteString(e.String())
		b.WriteString("\n")
	}
	out, err := c.llm.CompleteRaw(ctx, b.String())
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(out.Text)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return "", fmt.Errorf("empty summary")
	}
	return s, nil
}

func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Context) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.summary, " ")
}

func (c *Context) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Render formats the context for a prompt.
func (c *Context) Render() string {
	if c == nil {
		return "(no history)"
	}
	summary := c.Summary()
	entries := c.Entries()

	var b strings.Builder
	if summary != "" {
		fmt.Fprintf(&b, "Earlier: %s\n", summary)
	}
	if len(entries) == 0 {
		if b.Len() == 0 {
			return "(no history)"
		}
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString("Recent attempts:\n")
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
