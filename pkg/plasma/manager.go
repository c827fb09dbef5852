// Package plasma saves, changes and restores the hiding mode of KDE Plasma
// panels through the shell's evaluateScript D-Bus method.
//
// A Manager is built once. It checks whether the current desktop is KDE and
// resolves a script client (qdbus6, qdbus, optionally a native session-bus
// connection). When either check fails every operation is a no-op.
package plasma

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twinverse/hostbridge/pkg/exec"
)

const (
	DefaultDesktop    = "KDE"
	DefaultDesktopEnv = "XDG_CURRENT_DESKTOP"
	DefaultDodgeMode  = "dodgewindows"
)

// Outcome summarizes a manager operation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeSkipped: wrong desktop, or nothing to do.
	OutcomeSkipped
	// OutcomeUnavailable: no script client was resolved at construction.
	OutcomeUnavailable
	// OutcomePartial: at least one panel failed, the rest were handled.
	OutcomePartial
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomePartial:
		return "partial"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Snapshot maps panel index to the hiding token the shell printed for it.
// Indices are positions in panels() and do not survive a shell restart.
type Snapshot struct {
	ID      string         `yaml:"id" json:"id"`
	TakenAt time.Time      `yaml:"takenAt" json:"takenAt"`
	Modes   map[int]string `yaml:"modes" json:"modes"`
}

// Indices returns the recorded panel indices in ascending order.
func (s Snapshot) Indices() []int {
	out := make([]int, 0, len(s.Modes))
	for i := range s.Modes {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (s Snapshot) clone() Snapshot {
	modes := make(map[int]string, len(s.Modes))
	for k, v := range s.Modes {
		modes[k] = v
	}
	s.Modes = modes
	return s
}

type options struct {
	logger     *slog.Logger
	runner     exec.Runner
	lookupEnv  func(string) string
	desktop    string
	desktopEnv string
	candidates []string
	native     bool
	dodgeMode  string
	timeout    time.Duration
	resolver   Resolver
	client     ScriptClient
	clientSet  bool
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithRunner sets the runner used to probe for and drive qdbus.
func WithRunner(r exec.Runner) Option { return func(o *options) { o.runner = r } }

// WithLookupEnv replaces os.Getenv for the desktop check.
func WithLookupEnv(fn func(string) string) Option { return func(o *options) { o.lookupEnv = fn } }

func WithDesktop(name string) Option { return func(o *options) { o.desktop = name } }

func WithDesktopEnv(key string) Option { return func(o *options) { o.desktopEnv = key } }

func WithCandidates(bins ...string) Option {
	return func(o *options) { o.candidates = append([]string(nil), bins...) }
}

// WithNative allows falling back to a direct session-bus connection when no
// candidate binary answers.
func WithNative(enabled bool) Option { return func(o *options) { o.native = enabled } }

func WithDodgeMode(mode string) Option { return func(o *options) { o.dodgeMode = mode } }

// WithTimeout bounds each script round-trip.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithResolver replaces candidate probing.
func WithResolver(r Resolver) Option { return func(o *options) { o.resolver = r } }

// WithClient fixes the script client. A nil client leaves the manager degraded.
func WithClient(c ScriptClient) Option {
	return func(o *options) {
		o.client = c
		o.clientSet = true
	}
}

// Manager owns one panel snapshot. Its methods are serialized by an internal
// lock; use Wrap to hold the lock across a whole save, dodge, restore cycle.
type Manager struct {
	mu        sync.Mutex
	logger    *slog.Logger
	client    ScriptClient
	desktopOK bool
	dodgeMode string
	timeout   time.Duration
	snapshot  *Snapshot
}

// New checks the desktop and resolves the script client. Resolution happens
// exactly once per Manager.
func New(ctx context.Context, opts ...Option) *Manager {
	o := options{
		lookupEnv:  os.Getenv,
		desktop:    DefaultDesktop,
		desktopEnv: DefaultDesktopEnv,
		candidates: DefaultCandidates,
		dodgeMode:  DefaultDodgeMode,
		timeout:    exec.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	m := &Manager{
		logger:    o.logger,
		desktopOK: desktopMatches(o.lookupEnv(o.desktopEnv), o.desktop),
		dodgeMode: o.dodgeMode,
		timeout:   o.timeout,
	}

	switch {
	case o.clientSet:
		m.client = o.client
	case o.resolver != nil:
		m.client = o.resolver(ctx)
	default:
		m.client = defaultResolver(o)(ctx)
	}

	if m.client == nil {
		m.logger.Warn("no plasma script client found", "candidates", o.candidates, "native", o.native)
	}
	return m
}

var dialNative = DialNative

func defaultResolver(o options) Resolver {
	return func(ctx context.Context) ScriptClient {
		runner := o.runner
		if runner == nil {
			runner = exec.Default()
		}
		if c := ProbeCandidates(ctx, runner, o.candidates, o.logger); c != nil {
			return c
		}
		if !o.native {
			return nil
		}
		c, err := dialNative(ctx)
		if err != nil {
			o.logger.Debug("native script client unavailable", "err", err)
			return nil
		}
		o.logger.Info("using script client", "client", c.Name())
		return c
	}
}

// desktopMatches accepts a plain name or a colon separated list such as
// "KDE:wayland".
func desktopMatches(value, want string) bool {
	if value == "" || want == "" {
		return false
	}
	for _, part := range strings.Split(value, ":") {
		if part == want {
			return true
		}
	}
	return false
}

func (m *Manager) DesktopMatches() bool { return m.desktopOK }

func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// ClientName is empty when no client was resolved.
func (m *Manager) ClientName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return ""
	}
	return m.client.Name()
}

// Close releases the script client when it holds a connection, such as the
// native session-bus client. The manager is unavailable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.client.(io.Closer)
	m.client = nil
	if !ok {
		return nil
	}
	return c.Close()
}

// Snapshot returns a copy of the current snapshot, if any.
func (m *Manager) Snapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return Snapshot{}, false
	}
	return m.snapshot.clone(), true
}

func (m *Manager) ready() Outcome {
	if !m.desktopOK {
		return OutcomeSkipped
	}
	if m.client == nil {
		return OutcomeUnavailable
	}
	return OutcomeOK
}

// PanelCount returns the number of panels, or 0 when the manager is not
// usable or the shell's answer is not a non-negative integer.
func (m *Manager) PanelCount(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready() != OutcomeOK {
		return 0
	}
	return m.panelCount(ctx)
}

// Save records the hiding mode of every panel, replacing any earlier
// snapshot. Panels whose mode cannot be read are left out.
func (m *Manager) Save(ctx context.Context) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(ctx)
}

// Dodge sets every panel to the dodge mode. It does not touch the snapshot.
func (m *Manager) Dodge(ctx context.Context) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dodge(ctx)
}

// Restore writes the snapshot back in index order and then drops it, even
// if some panels could not be restored.
func (m *Manager) Restore(ctx context.Context) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restore(ctx)
}

// Wrap saves and dodges, runs fn, then restores. Restore runs even when fn
// fails or ctx is cancelled.
func (m *Manager) Wrap(ctx context.Context, fn func(context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.save(ctx)
	m.dodge(ctx)
	defer m.restore(context.WithoutCancel(ctx))
	return fn(ctx)
}

func (m *Manager) panelCount(ctx context.Context) int {
	out, err := m.eval(ctx, CountScript())
	if err != nil {
		m.logger.Warn("read panel count failed", "err", err)
		return 0
	}
	return parseCount(out)
}

func (m *Manager) save(ctx context.Context) Outcome {
	if o := m.ready(); o != OutcomeOK {
		return o
	}
	count := m.panelCount(ctx)
	if count == 0 {
		m.logger.Info("no plasma panels found")
		return OutcomeSkipped
	}

	snap := &Snapshot{ID: uuid.NewString(), TakenAt: time.Now(), Modes: make(map[int]string, count)}
	failed := 0
	for i := 0; i < count; i++ {
		script, _ := ReadHidingScript(i)
		mode, err := m.eval(ctx, script)
		if err != nil {
			failed++
			m.logger.Warn("read panel hiding mode failed", "snapshot", snap.ID, "panel", i, "err", err)
			continue
		}
		snap.Modes[i] = mode
		m.logger.Info("saved panel state", "snapshot", snap.ID, "panel", i, "mode", mode)
	}
	m.snapshot = snap
	return partial(failed)
}

func (m *Manager) dodge(ctx context.Context) Outcome {
	if o := m.ready(); o != OutcomeOK {
		return o
	}
	count := m.panelCount(ctx)
	if count == 0 {
		return OutcomeSkipped
	}
	failed := 0
	for i := 0; i < count; i++ {
		script, _ := WriteHidingScript(i, String(m.dodgeMode))
		if _, err := m.eval(ctx, script); err != nil {
			failed++
			m.logger.Warn("set panel hiding mode failed", "panel", i, "mode", m.dodgeMode, "err", err)
			continue
		}
		m.logger.Info("set panel hiding mode", "panel", i, "mode", m.dodgeMode)
	}
	return partial(failed)
}

func (m *Manager) restore(ctx context.Context) Outcome {
	if o := m.ready(); o != OutcomeOK {
		return o
	}
	if m.snapshot == nil || len(m.snapshot.Modes) == 0 {
		m.snapshot = nil
		return OutcomeSkipped
	}
	snap := m.snapshot
	defer func() { m.snapshot = nil }()

	failed := 0
	for _, i := range snap.Indices() {
		mode := snap.Modes[i]
		script, _ := WriteHidingScript(i, ModeValue(mode))
		if _, err := m.eval(ctx, script); err != nil {
			failed++
			m.logger.Warn("restore panel hiding mode failed", "snapshot", snap.ID, "panel", i, "mode", mode, "err", err)
			continue
		}
		m.logger.Info("restored panel state", "snapshot", snap.ID, "panel", i, "mode", mode)
	}
	return partial(failed)
}

func (m *Manager) eval(ctx context.Context, script string) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return m.client.Evaluate(ctx, script)
}

func parseCount(out string) int {
	out = strings.TrimSpace(out)
	if out == "" {
		return 0
	}
	for _, r := range out {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0
	}
	return n
}

func partial(failed int) Outcome {
	if failed > 0 {
		return OutcomePartial
	}
	return OutcomeOK
}
