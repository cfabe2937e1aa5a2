package browser

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"signalbet/internal/config"
)

// Page is the single-page control surface the site adapter drives.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	ClearAndType(ctx context.Context, selector, text string) error
	Evaluate(ctx context.Context, expr string, out any) error
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

type Options struct {
	Headless       bool
	RemoteURL      string
	ExecPath       string
	UserAgent      string
	WindowWidth    int
	WindowHeight   int
	DefaultTimeout time.Duration
	ActionTimeout  time.Duration
	Retries        int
}

func OptionsFromConfig(cfg config.BrowserConfig) Options {
	return Options{
		Headless:       cfg.Headless,
		RemoteURL:      strings.TrimSpace(cfg.RemoteURL),
		ExecPath:       strings.TrimSpace(cfg.ExecPath),
		UserAgent:      cfg.UserAgent,
		WindowWidth:    cfg.WindowWidth,
		WindowHeight:   cfg.WindowHeight,
		DefaultTimeout: cfg.DefaultTimeout,
		ActionTimeout:  cfg.ActionTimeout,
		Retries:        cfg.Retries,
	}
}

func (o Options) withDefaults() Options {
	if o.WindowWidth <= 0 {
		o.WindowWidth = 1280
	}
	if o.WindowHeight <= 0 {
		o.WindowHeight = 800
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 10 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	return o
}

// Session owns one browser tab over CDP. Calls are serialized; the browser
// process lives until Close regardless of the contexts passed to each call.
type Session struct {
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closed      bool
}

// Launch starts (or attaches to) a browser and opens a blank tab.
func Launch(ctx context.Context, opts Options, logger *zap.Logger) (*Session, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.NoSandbox,
			chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
		)
		if opts.UserAgent != "" {
			execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
		}
		if opts.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}

	sugar := logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	// The first Run allocates the browser and binds it to tabCtx, so it must
	// not run on a short-lived context.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx) }()

	timer := time.NewTimer(opts.DefaultTimeout)
	defer timer.Stop()
	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = context.DeadlineExceeded
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, &LaunchError{Err: err}
	}

	logger.Info("browser launched",
		zap.Bool("headless", opts.Headless),
		zap.Bool("remote", opts.RemoteURL != ""),
	)
	return &Session{
		opts:        opts,
		logger:      logger,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
	}, nil
}

// run executes actions bounded by timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s == nil || s.ctx == nil || s.closed {
		return ErrNotInitialized
	}
	if timeout <= 0 {
		timeout = s.opts.ActionTimeout
	}
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	if ctx != nil {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}
	return chromedp.Run(tctx, actions...)
}

// retry repeats idempotent reads with exponential backoff.
func (s *Session) retry(ctx context.Context, fn func() error) error {
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if err = fn(); err == nil || errors.Is(err, ErrNotInitialized) {
			return err
		}
		if attempt == s.opts.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if s == nil {
		return &NavigationError{URL: url, Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}
	err := s.retry(ctx, func() error {
		return s.run(ctx, timeout, chromedp.Navigate(url))
	})
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	return nil
}

func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if s == nil {
		return &ElementNotFoundError{Selector: selector, Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}
	if err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		if errors.Is(err, ErrNotInitialized) {
			return &InteractionError{Op: "wait", Selector: selector, Err: err}
		}
		return &ElementNotFoundError{Selector: selector, Timeout: timeout, Err: err}
	}
	return nil
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	if s == nil {
		return false, &InteractionError{Op: "exists", Selector: selector, Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lit, _ := json.Marshal(selector)
	var found bool
	err := s.retry(ctx, func() error {
		return s.run(ctx, s.opts.ActionTimeout, chromedp.Evaluate("document.querySelector("+string(lit)+") !== null", &found))
	})
	if err != nil {
		return false, &InteractionError{Op: "exists", Selector: selector, Err: err}
	}
	return found, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if s == nil {
		return &InteractionError{Op: "click", Selector: selector, Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.run(ctx, s.opts.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return &InteractionError{Op: "click", Selector: selector, Err: err}
	}
	return nil
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	if s == nil {
		return &InteractionError{Op: "type", Selector: selector, Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.run(ctx, s.opts.ActionTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return &InteractionError{Op: "type", Selector: selector, Err: err}
	}
	return nil
}

func (s *Session) ClearAndType(ctx context.Context, selector, text string) error {
	if s == nil {
		return &InteractionError{Op: "clear_and_type", Selector: selector, Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.run(ctx, s.opts.ActionTimeout,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return &InteractionError{Op: "clear_and_type", Selector: selector, Err: err}
	}
	return nil
}

// Evaluate runs a JS expression and decodes its JSON result into out.
// Expressions must not return null or undefined.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	if s == nil {
		return &InteractionError{Op: "evaluate", Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.retry(ctx, func() error {
		return s.run(ctx, s.opts.ActionTimeout, chromedp.Evaluate(expr, out))
	})
	if err != nil {
		return &InteractionError{Op: "evaluate", Err: err}
	}
	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	if s == nil {
		return "", &InteractionError{Op: "location", Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var url string
	if err := s.run(ctx, s.opts.ActionTimeout, chromedp.Location(&url)); err != nil {
		return "", &InteractionError{Op: "location", Err: err}
	}
	return url, nil
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	if s == nil {
		return &InteractionError{Op: "screenshot", Err: ErrNotInitialized}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf []byte
	if err := s.run(ctx, s.opts.DefaultTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return &InteractionError{Op: "screenshot", Err: err}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf, 0o644)
}

// Close releases the tab and the browser process. Safe to call repeatedly.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.logger.Info("browser closed")
	return nil
}
