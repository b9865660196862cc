package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// LanguageEnv is set on recognizer commands to the configured language.
const LanguageEnv = "CLOUDVOICE_SPEECH_LANGUAGE"

// SplitCommand splits a configured command line on whitespace.
func SplitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// CommandRecognizer runs an external program that records one utterance
// and prints its transcript on stdout.
type CommandRecognizer struct {
	Name     string
	Args     []string
	language string
}

// NewCommandRecognizer returns nil when line is empty, which the capture
// adapter treats as unsupported.
func NewCommandRecognizer(line string) *CommandRecognizer {
	name, args := SplitCommand(line)
	if name == "" {
		return nil
	}
	return &CommandRecognizer{Name: name, Args: args}
}

func (r *CommandRecognizer) Configure(cfg RecognizerConfig) error {
	if _, err := exec.LookPath(r.Name); err != nil {
		return fmt.Errorf("capture command %q: %w", r.Name, err)
	}
	r.language = cfg.Language
	return nil
}

func (r *CommandRecognizer) Recognize(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.Name, r.Args...)
	cmd.Env = append(os.Environ(), LanguageEnv+"="+r.language)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", r.Name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", r.Name, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", scanner.Err()
}

// CommandSynthesizer runs an external program with the text as its last
// argument, e.g. "say" or "espeak -v en".
type CommandSynthesizer struct {
	Name string
	Args []string
}

// NewCommandSynthesizer returns nil when line is empty.
func NewCommandSynthesizer(line string) *CommandSynthesizer {
	name, args := SplitCommand(line)
	if name == "" {
		return nil
	}
	return &CommandSynthesizer{Name: name, Args: args}
}

func (s *CommandSynthesizer) Speak(ctx context.Context, text string) error {
	args := append(append([]string{}, s.Args...), text)
	if err := exec.CommandContext(ctx, s.Name, args...).Run(); err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	return nil
}
