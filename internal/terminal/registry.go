package terminal

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/shared/id"
	"github.com/GriffinCanCode/termhost/internal/shared/paths"
	"github.com/GriffinCanCode/termhost/internal/shared/utils"
	"github.com/GriffinCanCode/termhost/internal/terminal/account"
	"github.com/GriffinCanCode/termhost/internal/terminal/process"
)

// Reap reasons, also used as metric labels.
const (
	ReasonDeleted  = "deleted"
	ReasonExited   = "exited"
	ReasonDetached = "detached"
	ReasonReplaced = "replaced"
	ReasonShutdown = "shutdown"
)

// Launcher starts shell processes. process.Spawner is the production
// implementation.
type Launcher interface {
	Spawn(ctx context.Context, opts process.Options, sink process.Sink) (process.Process, error)
}

// Listener receives the output and exit of every session. The gateway hub
// implements it to fan events out to a user's viewers.
type Listener interface {
	SessionOutput(userID string, sessionID id.SessionID, data []byte)
	SessionExit(userID string, sessionID id.SessionID, status process.ExitStatus)
}

// Config holds registry settings.
type Config struct {
	WorkspaceRoot string
	HomeRoot      string
	Shell         string
	// GracePeriod is how long a session with no viewers, or whose shell
	// exited, is kept before it is reaped.
	GracePeriod   time.Duration
	RemoveAccount bool
	// TeardownTimeout bounds the account commands of a single reap.
	TeardownTimeout time.Duration
	// RefuseRootFallback fails a create whose provisioning failed while the
	// service runs as root, instead of starting a degraded root shell.
	RefuseRootFallback bool
}

// CreateRequest carries the identity a session is created for.
type CreateRequest struct {
	UserID          string
	ProjectID       string
	DisplayIdentity string
}

// Registry is the single owner of the userID -> Session map. Create and
// delete for one user are serialized; different users never block each other.
type Registry struct {
	cfg      Config
	layout   paths.Layout
	accounts account.Provisioner
	launcher Launcher
	reaper   *Reaper
	log      *logging.Logger
	metrics  *monitoring.Metrics
	locks    *keyLock
	euid     func() int

	mu       sync.RWMutex
	sessions map[string]*Session
	// usernames maps each account name in use to the user holding it, from
	// allocation until the session's account has been reaped
	usernames map[string]string
	closed    bool

	listenerMu sync.RWMutex
	listener   Listener
}

// NewRegistry creates a registry.
func NewRegistry(cfg Config, accounts account.Provisioner, launcher Launcher, log *logging.Logger, metrics *monitoring.Metrics) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Minute
	}

	return &Registry{
		cfg:      cfg,
		layout:   paths.NewLayout(cfg.WorkspaceRoot, cfg.HomeRoot),
		accounts: accounts,
		launcher: launcher,
		reaper:   NewReaper(accounts, cfg.RemoveAccount, cfg.TeardownTimeout, log, metrics),
		log:      log.Named("registry"),
		metrics:  metrics,
		locks:    newKeyLock(),
		euid:     os.Geteuid,
		sessions: make(map[string]*Session),

		usernames: make(map[string]string),
	}
}

// SetListener installs the receiver of session output and exits.
func (r *Registry) SetListener(l Listener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listener = l
}

func (r *Registry) currentListener() Listener {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	return r.listener
}

// CreateSession returns the user's active session, or provisions an
// account and starts a shell for a new one. A session whose shell already
// exited is reaped and replaced. Provisioning failures are logged and the
// session starts degraded, unless the shell would then run as root and
// RefuseRootFallback is set.
func (r *Registry) CreateSession(ctx context.Context, req CreateRequest) (SessionInfo, error) {
	if err := validateCreate(req); err != nil {
		return SessionInfo{}, err
	}

	unlock := r.locks.Lock(req.UserID)
	defer unlock()

	if r.isClosed() {
		return SessionInfo{}, ErrShuttingDown
	}

	if existing := r.get(req.UserID); existing != nil {
		if existing.Status() == StatusActive {
			r.metrics.IncSessionsReused()
			r.log.Debug("returning existing session",
				zap.String("user_id", req.UserID),
				zap.String("session_id", existing.ID.String()),
			)
			return existing.Info(), nil
		}
		r.teardown(ctx, existing, ReasonReplaced)
	}

	username := r.allocateUsername(req.UserID, req.DisplayIdentity)
	s := &Session{
		ID:               id.NewSessionID(),
		UserID:           req.UserID,
		ProjectID:        req.ProjectID,
		Username:         username,
		WorkingDirectory: r.layout.Workspace(req.ProjectID),
		HomeDirectory:    r.layout.Home(username),
		CreatedAt:        time.Now(),
		status:           StatusActive,
	}
	log := r.log.ForSession(s.UserID, s.ID.String(), s.Username)

	credential, err := r.provision(ctx, s)
	if err != nil {
		if r.cfg.RefuseRootFallback && r.euid() == 0 {
			log.Error("provisioning failed, refusing to start a root shell", zap.Error(err))
			r.releaseUsername(s.Username, s.UserID)
			return SessionInfo{}, fmt.Errorf("%w: refusing to run %s as root: %w", ErrProvisioning, s.Username, err)
		}
		s.Degraded = true
		log.Warn("provisioning failed, continuing without dedicated account", zap.Error(err))
	}

	proc, err := r.launcher.Spawn(ctx, process.Options{
		Username:         s.Username,
		HomeDirectory:    s.HomeDirectory,
		WorkingDirectory: s.WorkingDirectory,
		Credential:       credential,
		Env: map[string]string{
			"TERMHOST_SESSION_ID": s.ID.String(),
			"TERMHOST_PROJECT_ID": s.ProjectID,
		},
	}, &sessionSink{registry: r, session: s})
	if err != nil {
		log.Error("failed to spawn shell", zap.Error(err))
		r.releaseUsername(s.Username, s.UserID)
		return SessionInfo{}, fmt.Errorf("%w: %w", ErrProcess, err)
	}
	s.setProcess(proc)

	r.mu.Lock()
	r.sessions[s.UserID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.IncSessionsCreated()
	r.metrics.SetSessionsActive(count)
	log.Info("session created",
		zap.String("project_id", s.ProjectID),
		zap.String("working_directory", s.WorkingDirectory),
		zap.Int("pid", proc.Pid()),
		zap.Bool("degraded", s.Degraded),
	)
	return s.Info(), nil
}

func validateCreate(req CreateRequest) error {
	if err := utils.ValidateUserID(req.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := utils.ValidateProjectID(req.ProjectID); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := utils.ValidateDisplayIdentity(req.DisplayIdentity); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// provision ensures the account and resolves the credential the shell
// should run under. A nil credential means the service's own.
func (r *Registry) provision(ctx context.Context, s *Session) (*process.Credential, error) {
	spec := account.Spec{
		Username:         s.Username,
		HomeDirectory:    s.HomeDirectory,
		WorkingDirectory: s.WorkingDirectory,
		Shell:            r.cfg.Shell,
	}
	if err := r.accounts.Ensure(ctx, spec); err != nil {
		return nil, fmt.Errorf("%w: ensure %s: %w", ErrProvisioning, s.Username, err)
	}

	ident, err := r.accounts.Lookup(s.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %w", ErrProvisioning, s.Username, err)
	}
	if ident.Synthetic {
		return nil, nil
	}
	return &process.Credential{UID: ident.UID, GID: ident.GID, Groups: ident.Groups}, nil
}

// allocateUsername derives the username and reserves it for userID. A name
// held by another user, whether by a live session, one still being created
// or one still being reaped, is resolved by suffixing.
func (r *Registry) allocateUsername(userID, identity string) string {
	base := DeriveUsername(userID, identity)

	r.mu.Lock()
	defer r.mu.Unlock()

	taken := func(name string) bool {
		holder, ok := r.usernames[name]
		return ok && holder != userID
	}

	name := base
	for i := 0; taken(name); i++ {
		seed := userID
		if i > 0 {
			seed = fmt.Sprintf("%s#%d", userID, i)
		}
		name = suffixUsername(base, seed)
	}
	r.usernames[name] = userID
	return name
}

// releaseUsername frees name if userID still holds it.
func (r *Registry) releaseUsername(name, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usernames[name] == userID {
		delete(r.usernames, name)
	}
}

// teardown drops s from the map and reaps it unless teardown already
// started elsewhere. The username is released only after the reap, so the
// account is never handed out while its processes are being killed.
func (r *Registry) teardown(ctx context.Context, s *Session, reason string) {
	r.remove(s)
	if s.beginTeardown() {
		r.reaper.Reap(ctx, s, reason)
		r.releaseUsername(s.Username, s.UserID)
	}
}

// DeleteSession tears down the user's session. It returns false when there
// is none; teardown failures are logged, never returned.
func (r *Registry) DeleteSession(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	unlock := r.locks.Lock(userID)
	defer unlock()

	s := r.get(userID)
	if s == nil {
		return false
	}
	r.teardown(ctx, s, ReasonDeleted)
	return true
}

// GetSession returns the user's session.
func (r *Registry) GetSession(userID string) (SessionInfo, error) {
	s := r.get(userID)
	if s == nil {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return s.Info(), nil
}

// WriteInput forwards keystrokes to the user's shell.
func (r *Registry) WriteInput(userID string, data []byte) error {
	if err := utils.ValidateInput(data); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	p, err := r.liveProcess(userID)
	if err != nil {
		return err
	}
	if _, err := p.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrProcess, err)
	}
	return nil
}

// Resize changes the user's terminal size.
func (r *Registry) Resize(userID string, cols, rows int) error {
	if err := utils.ValidateDimensions(cols, rows); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	p, err := r.liveProcess(userID)
	if err != nil {
		return err
	}
	if err := p.Resize(cols, rows); err != nil {
		return fmt.Errorf("%w: %w", ErrProcess, err)
	}
	return nil
}

// Scrollback returns the recent output of the user's shell.
func (r *Registry) Scrollback(userID string) ([]byte, error) {
	s := r.get(userID)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	p := s.proc()
	if p == nil {
		return nil, nil
	}
	return p.Scrollback(), nil
}

// liveProcess returns the user's running shell: ErrNotFound without a
// session, ErrProcess when the shell has exited.
func (r *Registry) liveProcess(userID string) (process.Process, error) {
	s := r.get(userID)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	p := s.proc()
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if status := s.Status(); status != StatusActive {
		return nil, fmt.Errorf("%w: session is %s", ErrProcess, status)
	}
	return p, nil
}

// List returns every session, oldest first.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SessionID < infos[j].SessionID
	})
	return infos
}

// Count returns the number of sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Detach is called when the user's last viewer leaves. The session is
// reaped after the grace period unless a viewer returns.
func (r *Registry) Detach(userID string) {
	s := r.get(userID)
	if s == nil || s.Status() != StatusActive {
		return
	}
	r.scheduleReap(s, ReasonDetached)
	r.log.Debug("last viewer left, reap scheduled",
		zap.String("user_id", userID),
		zap.Duration("grace_period", r.cfg.GracePeriod),
	)
}

// Attach is called when a viewer joins. It cancels a pending reap of an
// active session.
func (r *Registry) Attach(userID string) {
	s := r.get(userID)
	if s == nil || s.Status() != StatusActive {
		return
	}
	if s.cancelTimer() {
		r.log.Debug("viewer returned, reap cancelled", zap.String("user_id", userID))
	}
}

func (r *Registry) scheduleReap(s *Session, reason string) {
	userID, sessionID := s.UserID, s.ID
	s.scheduleTimer(r.cfg.GracePeriod, reason, func(gen uint64) {
		r.expire(userID, sessionID, gen)
	})
}

// expire runs when a grace timer fires. It only reaps the session the
// timer was set for, and only if the timer was not cancelled meanwhile.
func (r *Registry) expire(userID string, sessionID id.SessionID, gen uint64) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	s := r.get(userID)
	if s == nil || s.ID != sessionID {
		return
	}
	reason, current := s.timerCurrent(gen)
	if !current {
		return
	}
	r.teardown(context.Background(), s, reason)
}

// Shutdown reaps every session. New sessions are refused from the start.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			unlock := r.locks.Lock(s.UserID)
			defer unlock()

			if r.get(s.UserID) != s {
				return
			}
			r.teardown(ctx, s, ReasonShutdown)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("all sessions reaped", zap.Int("count", len(sessions)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted with sessions still terminating: %w", ctx.Err())
	}
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// remove drops s from the map if it is still the user's current session.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if r.sessions[s.UserID] == s {
		delete(r.sessions, s.UserID)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetSessionsActive(count)
}

// sessionSink routes one process's events to the listener. Output stops as
// soon as the session enters teardown.
type sessionSink struct {
	registry *Registry
	session  *Session
}

func (k *sessionSink) Output(data []byte) {
	if k.session.terminating.Load() {
		return
	}
	if l := k.registry.currentListener(); l != nil {
		l.SessionOutput(k.session.UserID, k.session.ID, data)
	}
}

func (k *sessionSink) Exit(status process.ExitStatus) {
	k.session.markExited(status)
	if k.session.terminating.Load() {
		return
	}

	k.registry.log.ForSession(k.session.UserID, k.session.ID.String(), k.session.Username).Info(
		"shell exited, reap scheduled",
		zap.Int("exit_code", status.Code),
		zap.Int("signal", status.Signal),
	)
	if l := k.registry.currentListener(); l != nil {
		l.SessionExit(k.session.UserID, k.session.ID, status)
	}
	k.registry.scheduleReap(k.session, ReasonExited)
}
