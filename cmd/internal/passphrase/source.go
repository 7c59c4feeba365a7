package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var (
	// ErrNoTerminal is returned when no passphrase is configured and stdin
	// cannot prompt.
	ErrNoTerminal = errors.New("passphrase: no terminal available")
	// ErrEmpty rejects blank passphrases.
	ErrEmpty = errors.New("passphrase: empty")
	// ErrMismatch is returned when the confirmation differs from the first
	// entry.
	ErrMismatch = errors.New("passphrase: confirmation does not match")
)

// Terminal reads a secret without echoing it.
type Terminal interface {
	IsTerminal() bool
	ReadSecret() ([]byte, error)
}

type fdTerminal int

func (fd fdTerminal) IsTerminal() bool            { return term.IsTerminal(int(fd)) }
func (fd fdTerminal) ReadSecret() ([]byte, error) { return term.ReadPassword(int(fd)) }

// Option customises a Source.
type Option func(*Source)

// WithTerminal replaces stdin and stderr as the prompt channel.
func WithTerminal(t Terminal, prompt io.Writer) Option {
	return func(s *Source) {
		s.terminal = t
		s.prompt = prompt
	}
}

// WithConfirmation asks for the passphrase twice when prompting. Used when a
// new keystore is written.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// Source resolves a keystore passphrase from an environment variable or an
// operator prompt, once.
type Source struct {
	envVar   string
	terminal Terminal
	prompt   io.Writer
	confirm  bool

	once  sync.Once
	value string
	err   error
}

func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar:   strings.TrimSpace(envVar),
		terminal: fdTerminal(os.Stdin.Fd()),
		prompt:   os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. The environment variable wins when set; its
// value is used verbatim.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%w: %s is set but blank", ErrEmpty, s.envVar)
			}
			return value, nil
		}
	}
	if s.terminal == nil || !s.terminal.IsTerminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("%w: set %s or run interactively", ErrNoTerminal, s.envVar)
		}
		return "", ErrNoTerminal
	}

	first, err := s.ask("Enter keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", ErrEmpty
	}
	if s.confirm {
		second, err := s.ask("Repeat keystore passphrase: ")
		if err != nil {
			return "", err
		}
		if second != first {
			return "", ErrMismatch
		}
	}
	return first, nil
}

func (s *Source) ask(label string) (string, error) {
	fmt.Fprint(s.prompt, label)
	secret, err := s.terminal.ReadSecret()
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(secret), nil
}
