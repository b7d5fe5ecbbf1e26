// Package input resolves the accepted submission forms into a list of
// normalized account handles before they reach the dispatcher.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	ErrNoAccounts = errors.New("no accounts provided")
	ErrBadAccount = errors.New("account is written in wrong format")
)

// Kind selects how a Source carries its accounts.
type Kind int

const (
	KindList Kind = iota + 1
	KindFile
	KindSingle
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindFile:
		return "file"
	case KindSingle:
		return "single"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Source is one submission. Only the field matching Kind is read.
type Source struct {
	Kind     Kind
	Accounts []string
	Path     string
	Account  string
}

func FromList(accounts []string) Source { return Source{Kind: KindList, Accounts: accounts} }
func FromFile(path string) Source       { return Source{Kind: KindFile, Path: path} }
func FromSingle(account string) Source  { return Source{Kind: KindSingle, Account: account} }

// Resolve returns the normalized handles of the source in submission order.
func (s Source) Resolve() ([]string, error) {
	var raw []string
	switch s.Kind {
	case KindList:
		raw = s.Accounts
	case KindSingle:
		if strings.TrimSpace(s.Account) != "" {
			raw = []string{s.Account}
		}
	case KindFile:
		lines, err := readLines(s.Path)
		if err != nil {
			return nil, err
		}
		raw = lines
	default:
		return nil, fmt.Errorf("unknown input kind %s", s.Kind)
	}

	if len(raw) == 0 {
		return nil, ErrNoAccounts
	}

	handles := make([]string, 0, len(raw))
	for _, a := range raw {
		h, err := Normalize(a)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

var (
	profileURL = regexp.MustCompile(`^https?://(?:www\.)?twitter\.com/([A-Za-z0-9_]+)/?$`)
	atHandle   = regexp.MustCompile(`^@([A-Za-z0-9_]+)$`)
	bareHandle = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Normalize accepts "https://twitter.com/some_id", "@some_id" or "some_id"
// and returns "some_id".
func Normalize(account string) (string, error) {
	a := strings.TrimSpace(account)
	if m := profileURL.FindStringSubmatch(a); m != nil {
		return m[1], nil
	}
	if m := atHandle.FindStringSubmatch(a); m != nil {
		return m[1], nil
	}
	if bareHandle.MatchString(a) {
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadAccount, account)
}

// readLines returns the non-empty lines of the file, skipping # comments.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening account file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading account file: %w", err)
	}
	return lines, nil
}
