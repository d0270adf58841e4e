// Package confirm asks an operator to approve destructive operations.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when a prompt needs a terminal and none is attached.
var ErrNotInteractive = errors.New("confirmation required but stdin is not a terminal; pass --yes to confirm non-interactively")

// Provider approves or declines a prompt.
type Provider interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoApprove confirms every prompt. It backs --yes and scheduled jobs.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, string) (bool, error) { return true, nil }

// Prompt reads the answer from a stream. Only an explicit "yes" approves.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompt creates a Prompt reading answers from in and writing questions to out.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

func (p *Prompt) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "%s\nType 'yes' to continue: ", prompt)

	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes"), nil
}

// Terminal is a Prompt bound to an interactive terminal.
type Terminal struct {
	fd     int
	prompt *Prompt
}

// NewTerminal creates a Terminal reading from in (normally os.Stdin).
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	return &Terminal{fd: int(in.Fd()), prompt: NewPrompt(in, out)}
}

func (t *Terminal) Confirm(ctx context.Context, prompt string) (bool, error) {
	if !term.IsTerminal(t.fd) {
		return false, ErrNotInteractive
	}
	return t.prompt.Confirm(ctx, prompt)
}
