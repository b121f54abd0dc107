// Package filter implements admission control for incoming connections based
// on an allow-list and a deny-list of client addresses.
package filter

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync/atomic"
)

var (
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrNotAllowed        = fmt.Errorf("%w: address is not on the allow-list", ErrAdmissionRejected)
	ErrDenied            = fmt.Errorf("%w: address is on the deny-list", ErrAdmissionRejected)
)

// AddressList is a set of textual client addresses. Membership is exact match.
type AddressList map[string]struct{}

// Contains reports whether addr is in the list.
func (l AddressList) Contains(addr string) bool {
	_, ok := l[addr]
	return ok
}

// Load reads a newline-delimited list of addresses from path. Blank lines and
// surrounding whitespace are ignored. A file that doesn't exist yields an
// empty list rather than an error so that an unconfigured list never stops
// the server from starting.
func Load(path string) (AddressList, error) {
	list := make(AddressList)
	if path == "" {
		return list, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return list, nil
		}
		return nil, fmt.Errorf("error opening address list %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if addr := strings.TrimSpace(scanner.Text()); addr != "" {
			list[addr] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading address list %s: %w", path, err)
	}
	return list, nil
}

type lists struct {
	allow AddressList
	deny  AddressList
}

// Filter holds the allow and deny lists. Both lists are replaced together on
// Refresh, so concurrent readers always see a consistent pair.
type Filter struct {
	AllowListFile string
	DenyListFile  string
	// AllowListOnly rejects any address that isn't on the allow-list.
	AllowListOnly bool

	current atomic.Pointer[lists]
}

// New creates a Filter and performs the initial load of both lists.
func New(allowListFile, denyListFile string, allowListOnly bool) (*Filter, error) {
	f := &Filter{
		AllowListFile: allowListFile,
		DenyListFile:  denyListFile,
		AllowListOnly: allowListOnly,
	}
	if err := f.Refresh(); err != nil {
		return nil, err
	}
	return f, nil
}

// Refresh re-reads both lists from disk and swaps them in. If either file
// can't be read the previously loaded lists stay in effect.
func (f *Filter) Refresh() error {
	allow, err := Load(f.AllowListFile)
	if err != nil {
		return err
	}
	deny, err := Load(f.DenyListFile)
	if err != nil {
		return err
	}
	f.current.Store(&lists{allow: allow, deny: deny})
	return nil
}

func (f *Filter) load() *lists {
	if l := f.current.Load(); l != nil {
		return l
	}
	return &lists{}
}

// IsAllowed reports whether addr is on the allow-list.
func (f *Filter) IsAllowed(addr string) bool {
	return f.load().allow.Contains(addr)
}

// IsBlocked reports whether addr is on the deny-list.
func (f *Filter) IsBlocked(addr string) bool {
	return f.load().deny.Contains(addr)
}

// Sizes returns the number of entries in the allow and deny lists.
func (f *Filter) Sizes() (allow, deny int) {
	l := f.load()
	return len(l.allow), len(l.deny)
}

// Admit applies the admission policy to addr. When AllowListOnly is set an
// address missing from the allow-list is rejected; independently of that, any
// address on the deny-list is rejected.
func (f *Filter) Admit(addr string) error {
	l := f.load()
	if f.AllowListOnly && !l.allow.Contains(addr) {
		return ErrNotAllowed
	}
	if l.deny.Contains(addr) {
		return ErrDenied
	}
	return nil
}
