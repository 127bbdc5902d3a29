// ABOUTME: Session controller owning the login lifecycle, derived chat state and live subscriptions
// ABOUTME: All state changes run on one dispatcher goroutine and are guarded by a session epoch

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/credentials"
	"github.com/2389/coven-chat/internal/query"
	"github.com/2389/coven-chat/internal/reconcile"
	"github.com/2389/coven-chat/internal/registry"
)

// Config wires a controller to its collaborators. Client and Auth are required.
type Config struct {
	Client      query.Client
	Auth        Authenticator
	Credentials CredentialStore
	Navigator   Navigator
	Notifier    Notifier
	Mode        reconcile.Mode
	Logger      *slog.Logger
}

// Option customizes a controller.
type Option func(*Controller)

// WithObserver registers fn to receive a snapshot after every committed change.
// Observers run on the dispatcher and must not call Login, Logout, Restore,
// OpenDiscussion or Close.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// WithClock overrides the time source used for message and activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator overrides the message id generator.
func WithIDGenerator(next func() string) Option {
	return func(c *Controller) { c.newID = next }
}

// Controller drives one user session at a time against a query.Client.
type Controller struct {
	client   query.Client
	auth     Authenticator
	creds    CredentialStore
	nav      Navigator
	notifier Notifier
	engine   *reconcile.Engine
	registry *registry.Registry
	logger   *slog.Logger

	now       func() time.Time
	newID     func() string
	observers []func(State)

	disp      *dispatcher
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Owned by the dispatcher goroutine.
	st         State
	sessCtx    context.Context
	sessCancel context.CancelFunc
	opening    map[registry.Key]bool

	snapMu sync.RWMutex
	snap   State
}

// New creates a controller in the logged-out phase and starts its dispatcher.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if cfg.Client == nil {
		return nil, errors.New("session: query client is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("session: authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	c := &Controller{
		client:   cfg.Client,
		auth:     cfg.Auth,
		creds:    cfg.Credentials,
		nav:      cfg.Navigator,
		notifier: cfg.Notifier,
		engine:   reconcile.New(cfg.Mode, logger),
		registry: registry.New(logger),
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		st:       emptyState(0),
		opening:  make(map[registry.Key]bool),
	}
	if c.creds == nil {
		c.creds = credentials.NewMemoryStore()
	}
	if c.nav == nil {
		c.nav = nopNavigator{}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap = c.st.clone()
	c.disp = newDispatcher(logger)
	return c, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.clone()
}

// LiveSubscriptions returns the number of registered subscriptions.
func (c *Controller) LiveSubscriptions() int {
	return c.registry.Len()
}

// do runs fn on the dispatcher and waits for it. If ctx ends first, fn still
// runs later but do returns ctx.Err(). Lifecycle transitions therefore wait
// with transition, so the caller always learns their outcome.
func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.disp.post(func() {
		defer close(done)
		fn()
	}) {
		return query.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition runs a short lifecycle step on the dispatcher and waits for it
// regardless of the caller's context.
func (c *Controller) transition(fn func()) error {
	return c.do(context.Background(), fn)
}

// post runs fn on the dispatcher without waiting.
func (c *Controller) post(fn func()) {
	if !c.disp.post(fn) {
		c.logger.Debug("dispatcher closed, dropping task")
	}
}

// commit publishes the state to Snapshot readers and observers. Dispatcher only.
func (c *Controller) commit() {
	snap := c.st.clone()
	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
	for _, obs := range c.observers {
		obs(snap.clone())
	}
}

// notify reports a failure to the user. Dispatcher only.
func (c *Controller) notify(message string, err error) {
	c.logger.Warn(message, "error", err)
	if c.notifier != nil {
		c.notifier.Notify(Notification{Message: message, Err: err})
	}
}

func (c *Controller) current(epoch uint64) bool {
	return c.st.Epoch == epoch
}

// Login authenticates, installs the session and bootstraps it. It returns once
// the initial fetches have settled; the session is then Live. Fetch failures
// are reported through the Notifier and do not fail the login.
func (c *Controller) Login(ctx context.Context, creds Credentials) (*chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var epoch uint64
	var err error
	if derr := c.transition(func() {
		if c.st.Phase != PhaseLoggedOut {
			err = chat.ErrSessionActive
			return
		}
		c.st.Epoch++
		epoch = c.st.Epoch
		c.st.Phase = PhaseAuthenticating
		c.commit()
	}); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("logging in", "email", creds.Email, "epoch", epoch)
	sess, aerr := c.auth.Login(ctx, creds)
	if aerr == nil && (sess == nil || sess.User.ID == "") {
		aerr = errors.New("authenticator returned no user")
	}
	if aerr != nil {
		authErr := &chat.AuthError{Err: aerr}
		_ = c.transition(func() {
			if !c.current(epoch) {
				return
			}
			c.st.Phase = PhaseLoggedOut
			c.commit()
			c.notify("login failed", authErr)
		})
		return nil, authErr
	}

	if err := c.start(ctx, epoch, sess, true); err != nil {
		return nil, err
	}
	return sess, nil
}

// Restore rebuilds the session saved in the credential store and bootstraps
// it without re-authenticating. It returns chat.ErrNotLoggedIn when nothing is saved.
func (c *Controller) Restore(ctx context.Context) (*chat.Session, error) {
	sess, err := c.loadSaved()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var epoch uint64
	if derr := c.transition(func() {
		if c.st.Phase != PhaseLoggedOut {
			err = chat.ErrSessionActive
			return
		}
		c.st.Epoch++
		epoch = c.st.Epoch
		c.st.Phase = PhaseAuthenticating
		c.commit()
	}); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("restoring session", "user_id", sess.User.ID, "epoch", epoch)
	if err := c.start(ctx, epoch, sess, false); err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Controller) loadSaved() (*chat.Session, error) {
	token, err := c.creds.Get(credentials.KeyToken)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, chat.ErrNotLoggedIn
		}
		return nil, fmt.Errorf("reading saved token: %w", err)
	}
	rawUser, err := c.creds.Get(credentials.KeyUser)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, chat.ErrNotLoggedIn
		}
		return nil, fmt.Errorf("reading saved user: %w", err)
	}
	var saved savedUser
	if err := json.Unmarshal([]byte(rawUser), &saved); err != nil {
		return nil, fmt.Errorf("parsing saved user: %w", err)
	}
	if saved.ID == "" || token == "" {
		return nil, chat.ErrNotLoggedIn
	}
	return &chat.Session{User: saved.user(), Token: token}, nil
}

// savedUser is the JSON form of the user kept in the credential store.
type savedUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (s savedUser) user() chat.User {
	return chat.User{ID: s.ID, Name: s.Name, Email: s.Email}
}

// start installs sess under epoch, bootstraps it and enters Live. A ctx that
// ends during bootstrap fails the fetches still running; the session goes Live
// anyway and start reports success, matching the committed state.
func (c *Controller) start(ctx context.Context, epoch uint64, sess *chat.Session, persist bool) error {
	stale := false
	if err := c.transition(func() {
		if !c.current(epoch) {
			stale = true
			return
		}
		c.install(sess, persist)
	}); err != nil {
		return err
	}
	if stale {
		return chat.ErrStaleSession
	}

	c.bootstrap(ctx, epoch, sess.User.ID)

	if err := c.transition(func() {
		if !c.current(epoch) {
			stale = true
			return
		}
		c.st.Phase = PhaseLive
		c.commit()
		c.logger.Info("session live", "user_id", sess.User.ID, "epoch", epoch)
	}); err != nil {
		return err
	}
	if stale {
		return chat.ErrStaleSession
	}
	return nil
}

// install makes sess the current session. Dispatcher only.
func (c *Controller) install(sess *chat.Session, persist bool) {
	c.sessCtx, c.sessCancel = context.WithCancel(context.Background())
	c.opening = make(map[registry.Key]bool)

	c.st.Phase = PhaseBootstrapping
	s := *sess
	c.st.Session = &s
	c.st.Users = map[string]chat.User{chat.BroadcastID: chat.BroadcastUser()}
	c.st.Conversations = map[string]*chat.Conversation{}
	c.st.OpenConversation = ""

	if persist {
		c.persist(sess)
	}
	if ts, ok := c.client.(TokenSetter); ok {
		ts.SetToken(sess.Token)
	}
	c.nav.Navigate(RouteRoot)
	c.commit()
}

func (c *Controller) persist(sess *chat.Session) {
	raw, err := json.Marshal(savedUser{ID: sess.User.ID, Name: sess.User.Name, Email: sess.User.Email})
	if err != nil {
		c.logger.Warn("encoding saved user", "error", err)
		return
	}
	if err := c.creds.Set(credentials.KeyUser, string(raw)); err != nil {
		c.logger.Warn("saving user credential", "error", err)
	}
	if err := c.creds.Set(credentials.KeyToken, sess.Token); err != nil {
		c.logger.Warn("saving token credential", "error", err)
	}
}

// Logout tears the session down: every subscription is cancelled, state is
// cleared and saved credentials are removed. It is safe to call at any time,
// including mid-bootstrap and when already logged out. Cancel failures are
// returned for information; the session is gone regardless. Teardown always
// completes before Logout returns, even when ctx is already done.
func (c *Controller) Logout(_ context.Context) error {
	var cancelErr error
	err := c.transition(func() {
		cancelErr = c.teardown()
	})
	if errors.Is(err, query.ErrClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	return cancelErr
}

// teardown ends the current session. Dispatcher only.
func (c *Controller) teardown() error {
	wasLoggedIn := c.st.Phase != PhaseLoggedOut
	c.st = emptyState(c.st.Epoch + 1)
	if c.sessCancel != nil {
		c.sessCancel()
		c.sessCancel = nil
	}
	c.opening = make(map[registry.Key]bool)

	cancelErr := c.registry.CancelAll()

	if err := c.creds.Remove(credentials.KeyUser); err != nil {
		c.logger.Warn("removing user credential", "error", err)
	}
	if err := c.creds.Remove(credentials.KeyToken); err != nil {
		c.logger.Warn("removing token credential", "error", err)
	}
	if ts, ok := c.client.(TokenSetter); ok {
		ts.SetToken("")
	}
	c.nav.Navigate(RouteLogin)
	c.commit()

	if wasLoggedIn {
		c.logger.Info("logged out", "epoch", c.st.Epoch)
	}
	return cancelErr
}

// Close logs out, stops the dispatcher and waits for background work.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.Logout(context.Background())
		c.disp.close()
		c.wg.Wait()
	})
	return err
}

// OpenDiscussion selects the conversation shown to the user, creating an
// empty one for a partner without history.
func (c *Controller) OpenDiscussion(ctx context.Context, partnerID string) error {
	if partnerID == "" {
		return &chat.ValidationError{Field: "partner", Reason: "must not be empty"}
	}
	var err error
	if derr := c.do(ctx, func() {
		if c.st.Session == nil {
			err = chat.ErrNotLoggedIn
			return
		}
		if _, ok := c.st.Conversations[partnerID]; !ok {
			c.st.Conversations[partnerID] = &chat.Conversation{
				Partner: reconcile.LookupUser(c.st.Users, partnerID),
			}
		}
		c.st.OpenConversation = partnerID
		c.commit()
	}); derr != nil {
		return derr
	}
	return err
}

// session returns the installed session and its epoch.
func (c *Controller) session(ctx context.Context) (*chat.Session, uint64, error) {
	var sess *chat.Session
	var epoch uint64
	if err := c.do(ctx, func() {
		if c.st.Session != nil {
			s := *c.st.Session
			sess = &s
		}
		epoch = c.st.Epoch
	}); err != nil {
		return nil, 0, err
	}
	if sess == nil {
		return nil, 0, chat.ErrNotLoggedIn
	}
	return sess, epoch, nil
}
