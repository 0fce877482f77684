package smt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	capserr "github.com/orizon-lang/capsafe/internal/errors"
)

// MinZ3Version is the oldest z3 accepted for the thorough profile.
const MinZ3Version = ">= 4.8"

// readGrace is added to the solver's own timeout before the process is
// considered hung.
const readGrace = 500 * time.Millisecond

var versionPattern = regexp.MustCompile(`(\d+\.\d+\.\d+)`)

// Z3 is a session backed by an external z3 process speaking SMT-LIB2 over
// stdin and stdout. Integers are unbounded (QF_UFLIA).
type Z3 struct {
	cfg     Config
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	out     *bufio.Reader
	version *semver.Version
	consts  map[string]bool
	funcs   map[string]int
	closed  bool
}

// Z3Version runs path --version and parses the reported version.
func Z3Version(ctx context.Context, path string) (*semver.Version, error) {
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return nil, capserr.SolverUnavailable("cannot run "+path, err)
	}
	match := versionPattern.FindString(string(out))
	if match == "" {
		return nil, capserr.SolverUnavailable(fmt.Sprintf("unrecognised version output %q", strings.TrimSpace(string(out))), nil)
	}
	v, err := semver.NewVersion(match)
	if err != nil {
		return nil, capserr.SolverUnavailable("bad version "+match, err)
	}
	return v, nil
}

// CheckZ3Version reports whether v satisfies MinZ3Version.
func CheckZ3Version(v *semver.Version) error {
	c, err := semver.NewConstraint(MinZ3Version)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return capserr.SolverUnavailable(fmt.Sprintf("z3 %s does not satisfy %s", v, MinZ3Version), nil)
	}
	return nil
}

// NewZ3 starts a z3 process. path defaults to "z3" on PATH.
func NewZ3(ctx context.Context, path string, cfg Config) (*Z3, error) {
	if path == "" {
		path = "z3"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, capserr.SolverUnavailable(path+" not found", err)
	}

	version, err := Z3Version(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if err := CheckZ3Version(version); err != nil {
		return nil, err
	}

	cmd := exec.Command(resolved, "-in", "-smt2")
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, capserr.SolverUnavailable("stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, capserr.SolverUnavailable("stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, capserr.SolverUnavailable("start "+resolved, err)
	}

	z := &Z3{
		cfg:     cfg,
		cmd:     cmd,
		stdin:   stdin,
		out:     bufio.NewReader(stdout),
		version: version,
		consts:  make(map[string]bool),
		funcs:   make(map[string]int),
	}

	setup := []string{
		"(set-option :print-success false)",
		"(set-option :produce-models true)",
		"(set-option :produce-unsat-cores true)",
	}
	if cfg.Timeout > 0 {
		setup = append(setup, fmt.Sprintf("(set-option :timeout %d)", cfg.Timeout.Milliseconds()))
	}
	setup = append(setup, "(set-logic QF_UFLIA)")
	if err := z.send(setup...); err != nil {
		_ = z.Close()
		return nil, err
	}
	return z, nil
}

// Version returns the version of the running solver.
func (z *Z3) Version() *semver.Version {
	return z.version
}

func (z *Z3) send(cmds ...string) error {
	if z.closed {
		return capserr.SolverUnavailable("session closed", nil)
	}
	for _, cmd := range cmds {
		if _, err := io.WriteString(z.stdin, cmd+"\n"); err != nil {
			return capserr.SolverUnavailable("write to z3", err)
		}
	}
	return nil
}

type reply struct {
	text string
	err  error
}

// receive reads one response, killing the process if it does not arrive
// within the solver timeout plus a grace period.
func (z *Z3) receive() (string, error) {
	ch := make(chan reply, 1)
	go func() {
		text, err := readResponse(z.out)
		ch <- reply{text: text, err: err}
	}()

	var r reply
	if z.cfg.Timeout <= 0 {
		r = <-ch
	} else {
		timer := time.NewTimer(z.cfg.Timeout + readGrace)
		defer timer.Stop()
		select {
		case r = <-ch:
		case <-timer.C:
			_ = z.kill()
			return "", errHung
		}
	}

	if r.err != nil {
		return "", capserr.SolverUnavailable("read from z3", r.err)
	}
	if strings.HasPrefix(r.text, "(error") {
		return "", fmt.Errorf("z3: %s", r.text)
	}
	return r.text, nil
}

var errHung = fmt.Errorf("z3 did not answer within its timeout")

// DeclareConst declares an integer constant. Declaring it again is a no-op.
func (z *Z3) DeclareConst(name string) error {
	if z.consts[name] {
		return nil
	}
	if err := z.send(fmt.Sprintf("(declare-const %s Int)", name)); err != nil {
		return err
	}
	z.consts[name] = true
	return nil
}

// DeclareFunc declares an uninterpreted function from integers to integers.
func (z *Z3) DeclareFunc(name string, arity int) error {
	if prev, ok := z.funcs[name]; ok {
		if prev != arity {
			return fmt.Errorf("smt: %s redeclared with arity %d, was %d", name, arity, prev)
		}
		return nil
	}
	params := strings.TrimSpace(strings.Repeat("Int ", arity))
	if err := z.send(fmt.Sprintf("(declare-fun %s (%s) Int)", name, params)); err != nil {
		return err
	}
	z.funcs[name] = arity
	return nil
}

func (z *Z3) checkSymbols(f Formula) error {
	for _, name := range Symbols(f) {
		if !z.consts[name] {
			return capserr.UnknownSymbol(name)
		}
	}
	return nil
}

// Assert adds f at the base level, named for unsat cores when name is set.
func (z *Z3) Assert(name string, f Formula) error {
	if err := z.checkSymbols(f); err != nil {
		return err
	}
	if name == "" {
		return z.send("(assert " + f.String() + ")")
	}
	return z.send(fmt.Sprintf("(assert (! %s :named %s))", f, name))
}

// Check decides the base facts together with goal inside push/pop. The
// goal is popped on every return once the push has been sent, so a failed
// model or core query never leaves it asserted.
func (z *Z3) Check(ctx context.Context, goal Formula) (res Result, err error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := z.checkSymbols(goal); err != nil {
		return Result{}, err
	}
	if err := z.send("(push 1)"); err != nil {
		return Result{}, err
	}
	defer func() {
		if z.closed {
			return
		}
		if perr := z.send("(pop 1)"); perr != nil && err == nil {
			res, err = Result{}, perr
		}
	}()
	if err := z.send("(assert "+goal.String()+")", "(check-sat)"); err != nil {
		return Result{}, err
	}

	status, err := z.receive()
	if err == errHung {
		return Result{Status: Unknown, Reason: "solver killed after timeout"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	switch status {
	case "sat":
		res.Status = Sat
		if err := z.send("(get-model)"); err != nil {
			return Result{}, err
		}
		text, err := z.receive()
		if err != nil {
			return Result{}, err
		}
		if res.Model, err = parseModel(text); err != nil {
			return Result{}, err
		}
	case "unsat":
		res.Status = Unsat
		if err := z.send("(get-unsat-core)"); err != nil {
			return Result{}, err
		}
		text, err := z.receive()
		if err != nil {
			return Result{}, err
		}
		if res.Core, err = parseCore(text); err != nil {
			return Result{}, err
		}
	case "unknown":
		res.Status = Unknown
		res.Reason = "unknown"
		if err := z.send("(get-info :reason-unknown)"); err == nil {
			if text, err := z.receive(); err == nil {
				res.Reason = reasonUnknown(text)
			}
		}
	default:
		return Result{}, fmt.Errorf("z3: unexpected check-sat response %q", status)
	}
	return res, nil
}

func reasonUnknown(text string) string {
	expr, err := parseSexpr(text)
	if err != nil || !expr.isList || len(expr.list) != 2 {
		return text
	}
	return strings.Trim(expr.list[1].atom, `"`)
}

// Close asks z3 to exit and reaps the process group.
func (z *Z3) Close() error {
	if z.closed {
		return nil
	}
	_ = z.send("(exit)")
	z.closed = true
	_ = z.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- z.cmd.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(readGrace):
		_ = killProcess(z.cmd)
		<-done
		return nil
	}
}

func (z *Z3) kill() error {
	z.closed = true
	_ = z.stdin.Close()
	err := killProcess(z.cmd)
	go func() { _ = z.cmd.Wait() }()
	return err
}
