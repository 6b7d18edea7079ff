// Package runnertest provides a scripted runner.Executor for backend tests.
package runnertest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
)

// Response is the canned outcome of a matched command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err, when set, is returned instead of a Result.
	Err error
	// Do runs before the response is returned, for commands with side
	// effects such as writing an output file.
	Do func(cmd runner.Command) error
}

type rule struct {
	words []string
	resp  Response
}

// Fake records every command and answers with the first registered rule
// whose words all appear in the argv. Unmatched commands exit 1.
type Fake struct {
	mu    sync.Mutex
	rules []rule
	calls []runner.Command
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{}
}

// On registers resp for commands whose name and arguments include all words.
func (f *Fake) On(resp Response, words ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, rule{words: words, resp: resp})

	return f
}

// Run implements runner.Executor.
func (f *Fake) Run(_ context.Context, cmd runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	resp, ok := f.match(cmd)
	f.mu.Unlock()

	if !ok {
		return &runner.Result{ExitCode: 1}, &runner.ExitError{
			Command: cmd.String(),
			Code:    1,
			Stderr:  []byte(fmt.Sprintf("runnertest: no rule for %s", cmd.String())),
		}
	}

	if resp.Do != nil {
		if err := resp.Do(cmd); err != nil {
			return nil, err
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}

	res := &runner.Result{
		Stdout:   []byte(resp.Stdout),
		Stderr:   []byte(resp.Stderr),
		ExitCode: resp.ExitCode,
	}

	if resp.ExitCode != 0 {
		return res, &runner.ExitError{Command: cmd.String(), Code: resp.ExitCode, Stderr: res.Stderr}
	}

	return res, nil
}

func (f *Fake) match(cmd runner.Command) (Response, bool) {
	argv := append([]string{cmd.Name}, cmd.Args...)

	for _, r := range f.rules {
		if containsAll(argv, r.words) {
			return r.resp, true
		}
	}

	return Response{}, false
}

func containsAll(argv, words []string) bool {
	for _, w := range words {
		if !slices.Contains(argv, w) {
			return false
		}
	}

	return true
}

// Calls returns the recorded commands in order.
func (f *Fake) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.calls)
}

// CallCount returns the number of recorded commands.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

// LastCall returns the most recent command line rendered as a string.
func (f *Fake) LastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.calls) == 0 {
		return ""
	}

	last := f.calls[len(f.calls)-1]

	return strings.Join(append([]string{last.Name}, last.Args...), " ")
}

// EnvOf returns the value of key in cmd's extra environment.
func EnvOf(cmd runner.Command, key string) string {
	for _, kv := range cmd.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}

	return ""
}
