// Package webchat implements transport.Client by driving the messaging web
// client in a Chrome instance through the DevTools protocol. The linked
// session lives in the browser profile under AuthDir, so a restart resumes
// without scanning the QR code again.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shopops/internal/logging"
	"shopops/internal/transport"
	"shopops/internal/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

type linkState int

const (
	stateStarting linkState = iota
	stateAuthNeeded
	stateReady
	stateDisconnected
)

// Client is a browser-driven messaging transport.
type Client struct {
	cfg Config
	hub *transport.Hub

	// mu serializes page interactions; the client drives a single tab.
	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page

	ready    atomic.Bool
	state    linkState
	failures int
	corrupt  atomic.Pointer[transport.CorruptionError]

	// evaluate runs a page function; it is c.eval outside tests.
	evaluate func(ctx context.Context, js string, out any, args ...interface{}) error

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an unstarted client. Empty selectors use the built-in layout.
func New(cfg Config) *Client {
	cfg.Selectors = cfg.Selectors.withDefaults()
	c := &Client{cfg: cfg, hub: transport.NewHub(128)}
	c.evaluate = c.eval
	return c
}

// Start launches or attaches to the browser, opens the web client and starts
// the state watcher.
func (c *Client) Start(ctx context.Context) error {
	for _, dir := range []string{c.cfg.AuthDir, c.cfg.CacheDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	controlURL := c.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(c.cfg.Headless)
		if c.cfg.BrowserBin != "" {
			l = l.Bin(c.cfg.BrowserBin)
		}
		if c.cfg.AuthDir != "" {
			l = l.UserDataDir(c.cfg.AuthDir)
		}
		if c.cfg.CacheDir != "" {
			l = l.Set(flags.Flag("disk-cache-dir"), c.cfg.CacheDir)
		}
		u, err := l.Launch()
		if err != nil {
			if c.cfg.AuthDir != "" && strings.Contains(err.Error(), "SingletonLock") {
				return &transport.CorruptionError{Op: "launch", Err: err}
			}
			return fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: c.cfg.URL})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("open %s: %w", c.cfg.URL, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.browser = browser
	c.page = page
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	logging.Transport("Web client opened at %s (profile %s)", c.cfg.URL, c.cfg.AuthDir)
	go c.watch(runCtx)
	return nil
}

// Stop ends the watcher and closes the browser.
func (c *Client) Stop() error {
	c.mu.Lock()
	cancel, done, browser := c.cancel, c.done, c.browser
	c.browser, c.page = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.ready.Store(false)
	c.hub.Close()
	if browser != nil {
		return browser.Close()
	}
	return nil
}

// Ready reports whether the linked session is usable.
func (c *Client) Ready() bool {
	return c.ready.Load() && c.corrupt.Load() == nil
}

// Subscribe registers for lifecycle and inbound events.
func (c *Client) Subscribe() (<-chan transport.Event, func()) {
	return c.hub.Subscribe()
}

// ResolveContact normalizes a phone number into a contact address, adding
// the default country code to local numbers.
func (c *Client) ResolveContact(ctx context.Context, phone string) (string, error) {
	digits := c.internationalDigits(phone)
	if len(digits) < 7 {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	return digits + transport.ContactSuffix, nil
}

func (c *Client) internationalDigits(phone string) string {
	digits := transport.Digits(phone)
	if c.cfg.DefaultCountryCode != "" && c.cfg.LocalNumberLength > 0 && len(digits) == c.cfg.LocalNumberLength {
		digits = transport.Digits(c.cfg.DefaultCountryCode) + digits
	}
	return digits
}

// SendText opens the chat for to and sends text.
func (c *Client) SendText(ctx context.Context, to, text string) (transport.Ack, error) {
	var ack transport.Ack
	err := c.withPage(ctx, "send text", func(page *rod.Page) error {
		if err := c.openChat(page, to, text); err != nil {
			return err
		}
		btn, err := page.Element(c.cfg.Selectors.SendButton)
		if err != nil {
			return fmt.Errorf("send button: %w", err)
		}
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click send: %w", err)
		}
		ack = transport.Ack{ID: uuid.NewString(), Code: 1}
		return nil
	})
	return ack, err
}

// SendMedia opens the chat for to and sends media with a caption.
func (c *Client) SendMedia(ctx context.Context, to string, media transport.Media, caption string) (transport.Ack, error) {
	dir := c.cfg.CacheDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := media.Filename
	if name == "" {
		name = "attachment"
	}
	path := filepath.Join(dir, fmt.Sprintf("out_%s_%s", uuid.NewString(), filepath.Base(name)))
	if err := os.WriteFile(path, media.Data, 0o600); err != nil {
		return transport.Ack{}, fmt.Errorf("stage attachment: %w", err)
	}
	defer os.Remove(path)

	var ack transport.Ack
	err := c.withPage(ctx, "send media", func(page *rod.Page) error {
		if err := c.openChat(page, to, ""); err != nil {
			return err
		}
		attach, err := page.Element(c.cfg.Selectors.AttachButton)
		if err != nil {
			return fmt.Errorf("attach button: %w", err)
		}
		if err := attach.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click attach: %w", err)
		}
		input, err := page.Element(c.cfg.Selectors.FileInput)
		if err != nil {
			return fmt.Errorf("file input: %w", err)
		}
		if err := input.SetFiles([]string{path}); err != nil {
			return fmt.Errorf("set file: %w", err)
		}
		if caption != "" {
			box, err := page.Element(c.cfg.Selectors.Caption)
			if err != nil {
				return fmt.Errorf("caption box: %w", err)
			}
			if err := box.Input(caption); err != nil {
				return fmt.Errorf("type caption: %w", err)
			}
		}
		send, err := page.Element(c.cfg.Selectors.MediaSend)
		if err != nil {
			return fmt.Errorf("media send button: %w", err)
		}
		if err := send.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click media send: %w", err)
		}
		ack = transport.Ack{ID: uuid.NewString(), Code: 1}
		return nil
	})
	return ack, err
}

// withPage runs fn against the page under the interaction lock with the
// action timeout applied.
func (c *Client) withPage(ctx context.Context, op string, fn func(page *rod.Page) error) error {
	if ce := c.corrupt.Load(); ce != nil {
		return ce
	}
	if !c.Ready() {
		return transport.ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return transport.ErrNotReady
	}
	page := c.page.Context(ctx).Timeout(c.cfg.ActionTimeout())
	if err := fn(page); err != nil {
		if isSessionLost(err) {
			return c.markCorrupt(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) openChat(page *rod.Page, to, text string) error {
	q := url.Values{}
	q.Set("phone", transport.Digits(strings.TrimSuffix(to, transport.ContactSuffix)))
	if text != "" {
		q.Set("text", text)
	}
	target := strings.TrimRight(c.cfg.URL, "/") + "/send?" + q.Encode()
	if err := page.Navigate(target); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if _, err := page.Element(c.cfg.Selectors.Compose); err != nil {
		if has, _, _ := page.Has(c.cfg.Selectors.InvalidNumber); has {
			return fmt.Errorf("contact %s is not registered", to)
		}
		return fmt.Errorf("compose box: %w", err)
	}
	return nil
}

func (c *Client) markCorrupt(op string, err error) error {
	ce := &transport.CorruptionError{Op: op, Err: err}
	if c.corrupt.CompareAndSwap(nil, ce) {
		c.ready.Store(false)
		logging.TransportWarn("Session unusable after %s: %v", op, err)
		c.hub.Publish(transport.Event{Type: transport.EventDisconnected, Reason: ce.Error()})
	}
	return c.corrupt.Load()
}

// isSessionLost reports errors after which the tab or browser cannot be used.
func isSessionLost(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"target closed", "session closed", "websocket: close", "no target with given id", "browser has disconnected"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// stateJS also reports whether the inbound hook survives: opening a chat
// navigates the tab and drops every window global.
const stateJS = `(readySel, qrSel) => ({
	ready: !!document.querySelector(readySel),
	qr: !!document.querySelector(qrSel),
	hooked: !!window.__shopopsHooked,
})`

const hookJS = `(incomingSel, textSel) => {
	const w = window;
	if (w.__shopopsHooked) return true;
	w.__shopopsHooked = true;
	w.__shopopsInbox = [];
	const seen = new WeakSet();
	const collect = (node) => {
		if (!(node instanceof Element)) return;
		const bubbles = node.matches(incomingSel) ? [node] : node.querySelectorAll(incomingSel);
		bubbles.forEach((b) => {
			if (seen.has(b)) return;
			seen.add(b);
			const meta = b.querySelector('[data-pre-plain-text]');
			const text = b.querySelector(textSel);
			w.__shopopsInbox.push({
				meta: meta ? meta.getAttribute('data-pre-plain-text') : '',
				text: text ? text.innerText : '',
			});
		});
	};
	document.querySelectorAll(incomingSel).forEach((b) => seen.add(b));
	new MutationObserver((ms) => ms.forEach((m) => m.addedNodes.forEach(collect)))
		.observe(document.body, { childList: true, subtree: true });
	return true;
}`

const drainJS = `() => { const x = window.__shopopsInbox || []; window.__shopopsInbox = []; return x; }`

type pageState struct {
	Ready  bool `json:"ready"`
	QR     bool `json:"qr"`
	Hooked bool `json:"hooked"`
}

type rawInbound struct {
	Meta string `json:"meta"`
	Text string `json:"text"`
}

func (c *Client) watch(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Client) tick(ctx context.Context) {
	if c.corrupt.Load() != nil {
		return
	}
	var page pageState
	err := c.evaluate(ctx, stateJS, &page, c.cfg.Selectors.Ready, c.cfg.Selectors.QRCode)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.failures++
		logging.TransportWarn("State check failed (%d/%d): %v", c.failures, c.cfg.maxCheckFailures(), err)
		c.transition(stateDisconnected, err.Error())
		if c.failures >= c.cfg.maxCheckFailures() || isSessionLost(err) {
			_ = c.markCorrupt("state check", err)
		}
		return
	}
	c.failures = 0

	switch {
	case page.Ready:
		if !page.Hooked {
			if err := c.evaluate(ctx, hookJS, nil, c.cfg.Selectors.IncomingMessage, c.cfg.Selectors.MessageText); err != nil {
				logging.TransportWarn("Failed to install inbound hook: %v", err)
				return
			}
			if c.state == stateReady {
				logging.Get(logging.CategoryTransport).Debug("Inbound hook reinstalled after navigation")
			}
		}
		c.transition(stateReady, "")
		c.drain(ctx)
	case page.QR:
		c.transition(stateAuthNeeded, "scan the QR code to link this device")
	}
}

func (c *Client) transition(next linkState, reason string) {
	if c.state == next {
		return
	}
	c.state = next
	c.ready.Store(next == stateReady)
	switch next {
	case stateReady:
		logging.Transport("Transport ready")
		c.hub.Publish(transport.Event{Type: transport.EventReady})
	case stateAuthNeeded:
		logging.TransportWarn("Transport needs authentication: %s", reason)
		c.hub.Publish(transport.Event{Type: transport.EventAuthNeeded, Reason: reason})
	case stateDisconnected:
		logging.TransportWarn("Transport disconnected: %s", reason)
		c.hub.Publish(transport.Event{Type: transport.EventDisconnected, Reason: reason})
	}
}

func (c *Client) drain(ctx context.Context) {
	var batch []rawInbound
	if err := c.evaluate(ctx, drainJS, &batch); err != nil {
		logging.TransportWarn("Failed to read inbound messages: %v", err)
		return
	}
	for _, raw := range batch {
		msg, ok := parseInbound(raw)
		if !ok {
			continue
		}
		c.hub.Publish(transport.Event{Type: transport.EventInbound, Message: &msg})
	}
}

// eval runs a page function and decodes its JSON result into out.
func (c *Client) eval(ctx context.Context, js string, out any, args ...interface{}) error {
	c.mu.Lock()
	page := c.page
	if page == nil {
		c.mu.Unlock()
		return errors.New("page closed")
	}
	res, err := page.Context(ctx).Timeout(c.cfg.ActionTimeout()).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if out == nil || res == nil || res.Value.Nil() {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// senderPattern extracts the author from a bubble's "[time, date] author: "
// prefix.
var senderPattern = regexp.MustCompile(`\]\s*([^:]+):\s*$`)

func parseInbound(raw rawInbound) (types.Inbound, bool) {
	text := strings.TrimSpace(raw.Text)
	m := senderPattern.FindStringSubmatch(raw.Meta)
	if text == "" || m == nil {
		return types.Inbound{}, false
	}
	digits := transport.Digits(m[1])
	if digits == "" {
		return types.Inbound{}, false
	}
	return types.Inbound{From: digits + transport.ContactSuffix, Text: text}, true
}

var _ transport.Client = (*Client)(nil)
