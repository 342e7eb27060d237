package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/54b3r/asksudo-go/internal/rag"
)

// DefaultPDFToText is the binary looked up on PATH when no path is configured.
const DefaultPDFToText = "pdftotext"

// Runner executes an external command with stdin and returns its stdout.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, msg)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// Run executes name with args, feeding stdin and capturing stdout and stderr.
func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("extract: failed to run %s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// PDFToText extracts text from PDFs with poppler's pdftotext, reading the
// document on stdin and writing UTF-8 text to stdout.
type PDFToText struct {
	runner Runner
	binary string
}

// NewPDFToText resolves binary (DefaultPDFToText when empty) on PATH.
func NewPDFToText(binary string) (*PDFToText, error) {
	if binary == "" {
		binary = DefaultPDFToText
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("extract: %s not found on PATH (install poppler-utils): %w", binary, err)
	}
	return &PDFToText{runner: ExecRunner{}, binary: path}, nil
}

// NewPDFToTextWithRunner returns a PDFToText that executes through runner.
func NewPDFToTextWithRunner(runner Runner, binary string) *PDFToText {
	if binary == "" {
		binary = DefaultPDFToText
	}
	return &PDFToText{runner: runner, binary: binary}
}

// Extract implements Extractor.
func (p *PDFToText) Extract(ctx context.Context, data []byte) (string, error) {
	out, err := p.runner.Run(ctx, data, p.binary, "-enc", "UTF-8", "-q", "-", "-")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("extract: pdftotext: %w", ctxErr)
		}
		return "", fmt.Errorf("extract: %w: pdftotext: %w", rag.ErrExtract, err)
	}
	return strings.ToValidUTF8(string(out), ""), nil
}
