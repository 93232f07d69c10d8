// Package command reacts to the singleton control document: restart the
// process, or wipe the transport session and restart.
package command

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"shopops/internal/docstore"
	"shopops/internal/logging"
	"shopops/internal/types"
)

// DefaultExitDelay lets the flag reset reach the store before exiting.
const DefaultExitDelay = 1500 * time.Millisecond

// Options configures a Channel.
type Options struct {
	// SessionDirs are removed by a session wipe.
	SessionDirs []string
	ExitDelay   time.Duration
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) func() bool
}

// Channel executes edge-triggered commands.
type Channel struct {
	store docstore.Store
	opts  Options

	mu        sync.Mutex
	scheduled bool
	stopTimer func() bool
}

// New creates a command channel.
func New(store docstore.Store, opts Options) *Channel {
	if opts.ExitDelay <= 0 {
		opts.ExitDelay = DefaultExitDelay
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	return &Channel{store: store, opts: opts}
}

// Query selects the command document.
func Query() docstore.Query {
	return docstore.Query{Collection: types.CollectionConfig, DocID: types.CommandDocumentID}
}

// Handle inspects the command document. It matches feed.Handler and should
// receive both additions and modifications.
func (c *Channel) Handle(ctx context.Context, doc docstore.Document) {
	if err := c.Apply(ctx, doc); err != nil {
		logging.CommandError("Command document %s: %v", doc.ID, err)
	}
}

// Apply executes whichever flags are set. Flags are cleared before the exit
// is scheduled so a restarted process does not act on them again.
func (c *Channel) Apply(ctx context.Context, doc docstore.Document) error {
	var cmd types.CommandDocument
	if err := docstore.Decode(doc, &cmd); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if !cmd.Restart && !cmd.NukeSession {
		return nil
	}

	c.mu.Lock()
	if c.scheduled {
		c.mu.Unlock()
		logging.Command("Exit already scheduled, ignoring repeated command")
		return nil
	}
	c.scheduled = true
	c.mu.Unlock()

	reset := map[string]any{}
	if cmd.NukeSession {
		logging.Command("Session wipe requested")
		c.wipe()
		reset["nukeSession"] = false
	}
	if cmd.Restart {
		logging.Command("Restart requested")
		reset["restart"] = false
	}

	err := c.store.Batch(ctx, []docstore.Write{{
		Collection: types.CollectionConfig,
		ID:         doc.ID,
		Fields:     reset,
	}})
	if err != nil {
		c.mu.Lock()
		c.scheduled = false
		c.mu.Unlock()
		return fmt.Errorf("clear command flags: %w", err)
	}

	logging.Command("Flags cleared, exiting in %s", c.opts.ExitDelay)
	stop := c.opts.AfterFunc(c.opts.ExitDelay, func() {
		logging.Command("Exiting for restart")
		logging.CloseAll()
		c.opts.Exit(0)
	})
	c.mu.Lock()
	c.stopTimer = stop
	c.mu.Unlock()
	return nil
}

// Scheduled reports whether an exit is pending.
func (c *Channel) Scheduled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled
}

// Cancel stops a pending exit.
func (c *Channel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	c.scheduled = false
}

func (c *Channel) wipe() {
	for _, dir := range c.opts.SessionDirs {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logging.CommandError("Failed to remove %s: %v", dir, err)
			continue
		}
		logging.Command("Removed %s", dir)
	}
}
