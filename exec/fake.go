package exec

import (
	"context"
	"strings"
	"sync"
)

// Call is one invocation recorded by FakeRunner.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type fakeRule struct {
	prefix string
	fn     func(args []string) Result
}

// FakeRunner is a scripted Runner for tests. Rules match on the prefix of the
// command line ("name arg1 arg2 ..."), first registered wins. Unmatched
// commands behave like binaries missing from PATH.
type FakeRunner struct {
	mu    sync.Mutex
	rules []fakeRule
	calls []Call
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On returns a fixed result for commands starting with prefix.
func (f *FakeRunner) On(prefix string, result Result) *FakeRunner {
	return f.OnRun(prefix, func([]string) Result { return result })
}

// OnRun computes the result from the arguments, e.g. to write the output
// file a real tool would have produced.
func (f *FakeRunner) OnRun(prefix string, fn func(args []string) Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{prefix: prefix, fn: fn})
	return f
}

// Fail scripts a non-zero exit with the given stderr.
func (f *FakeRunner) Fail(prefix string, stderr string) *FakeRunner {
	return f.On(prefix, Result{ExitCode: 1, Stderr: stderr})
}

func (f *FakeRunner) Run(_ context.Context, name string, args ...string) Result {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	line := call.String()

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var rule *fakeRule
	for i := range f.rules {
		if strings.HasPrefix(line, f.rules[i].prefix) {
			rule = &f.rules[i]
			break
		}
	}
	f.mu.Unlock()

	if rule == nil {
		return Result{Command: name, Args: args, ExitCode: -1, NotFound: true, Err: ErrNotScripted}
	}
	res := rule.fn(args)
	res.Command = name
	res.Args = args
	return res
}

// Calls returns every invocation in order.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the invocations whose command line starts with prefix.
func (f *FakeRunner) CallsTo(prefix string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type notScripted struct{}

func (notScripted) Error() string { return "executable file not found in $PATH" }

// ErrNotScripted is returned for commands FakeRunner has no rule for.
var ErrNotScripted error = notScripted{}
