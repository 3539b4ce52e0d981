package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error)
}

// TesseractConfig selects the binary and recognition settings.
type TesseractConfig struct {
	Path     string
	Language string
	PSM      int
}

// Option configures the recognizer.
type Option func(*TesseractRecognizer)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *TesseractRecognizer) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// TesseractRecognizer shells out to the tesseract CLI and reads its TSV output.
type TesseractRecognizer struct {
	binary   string
	language string
	psm      int
	exec     Executor
}

// NewTesseractRecognizer verifies the binary and the language pack.
func NewTesseractRecognizer(ctx context.Context, cfg TesseractConfig, opts ...Option) (*TesseractRecognizer, error) {
	r := &TesseractRecognizer{
		binary:   strings.TrimSpace(cfg.Path),
		language: strings.TrimSpace(cfg.Language),
		psm:      cfg.PSM,
		exec:     commandExecutor{},
	}
	if r.binary == "" {
		r.binary = "tesseract"
	}
	if r.language == "" {
		r.language = "eng"
	}
	if r.psm <= 0 {
		r.psm = 3
	}
	for _, opt := range opts {
		opt(r)
	}

	if _, err := r.exec.Run(ctx, r.binary, []string{"--version"}, nil); err != nil {
		return nil, fmt.Errorf("tesseract unavailable: %w", err)
	}
	out, err := r.exec.Run(ctx, r.binary, []string{"--list-langs"}, nil)
	if err != nil {
		return nil, fmt.Errorf("list tesseract languages: %w", err)
	}
	if !hasLanguage(out, r.language) {
		return nil, fmt.Errorf("tesseract language %q not installed", r.language)
	}
	return r, nil
}

// Factory adapts the recognizer constructor for Engine.Start.
func (cfg TesseractConfig) Factory(opts ...Option) Factory {
	return func(ctx context.Context) (Recognizer, error) {
		return NewTesseractRecognizer(ctx, cfg, opts...)
	}
}

// Recognize runs one recognition pass over an image.
func (r *TesseractRecognizer) Recognize(ctx context.Context, png []byte) (ExtractionResult, error) {
	args := []string{"stdin", "stdout", "-l", r.language, "--psm", strconv.Itoa(r.psm), "tsv"}
	out, err := r.exec.Run(ctx, r.binary, args, png)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("tesseract: %w", err)
	}
	return ParseTSV(bytes.NewReader(out))
}

// Close is a no-op; each recognition is a separate process.
func (r *TesseractRecognizer) Close() error {
	return nil
}

// ParseTSV reads tesseract TSV output. Words are joined per line and the
// confidence is the mean of the word confidences, or 0 without words.
func ParseTSV(r io.Reader) (ExtractionResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		lines    []string
		current  []string
		lineKey  string
		sumConf  float64
		words    int
		sawFirst bool
	)
	flush := func() {
		if len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
		}
		current = nil
	}

	for scanner.Scan() {
		row := scanner.Text()
		if !sawFirst {
			sawFirst = true
			if strings.HasPrefix(row, "level") {
				continue
			}
		}
		fields := strings.SplitN(row, "\t", 12)
		if len(fields) < 12 || fields[0] != "5" {
			continue
		}
		text := strings.TrimSpace(fields[11])
		conf, err := strconv.ParseFloat(strings.TrimSpace(fields[10]), 64)
		if err != nil || conf < 0 || text == "" {
			continue
		}
		key := strings.Join(fields[1:5], ".")
		if key != lineKey {
			flush()
			lineKey = key
		}
		current = append(current, text)
		sumConf += conf
		words++
	}
	if err := scanner.Err(); err != nil {
		return ExtractionResult{}, fmt.Errorf("read tsv: %w", err)
	}
	flush()

	result := ExtractionResult{Text: strings.Join(lines, "\n")}
	if words > 0 {
		result.EngineConfidence = sumConf / float64(words)
	}
	return result, nil
}

func hasLanguage(listing []byte, language string) bool {
	for _, line := range strings.Split(string(listing), "\n") {
		if strings.TrimSpace(line) == language {
			return true
		}
	}
	return false
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}
