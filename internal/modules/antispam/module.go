package antispam

import (
	"sync"
	"time"

	"flexguard/internal/config"
	"flexguard/internal/utils"
)

type Action int

const (
	ActionNone Action = iota
	ActionSuppress
)

// Detector keeps a per-user sliding window of message timestamps and decides
// whether a message completes a spam burst. Windows live only for the process
// lifetime; a restart starts counting from zero.
type Detector struct {
	mu        sync.Mutex
	windows   map[string]*utils.SlidingWindow
	threshold int
	window    time.Duration
}

func New(cfg config.AntiSpamConfig) *Detector {
	return &Detector{
		windows:   make(map[string]*utils.SlidingWindow),
		threshold: cfg.Messages,
		window:    time.Duration(cfg.WindowSeconds) * time.Second,
	}
}

// HandleMessage records one message and returns ActionSuppress when the
// user reached the burst threshold inside the window. The window is cleared
// on suppression so the same burst cannot re-trigger immediately. Exempt
// callers are never tracked.
func (d *Detector) HandleMessage(guildID, userID string, now time.Time, exempt bool) Action {
	if exempt {
		return ActionNone
	}

	window := d.getWindow(guildID + ":" + userID)
	if window.Add(now) < d.threshold {
		return ActionNone
	}
	window.Reset()
	return ActionSuppress
}

// Threshold is the number of recent messages a suppression covers.
func (d *Detector) Threshold() int {
	return d.threshold
}

func (d *Detector) getWindow(key string) *utils.SlidingWindow {
	d.mu.Lock()
	defer d.mu.Unlock()
	window := d.windows[key]
	if window == nil {
		window = utils.NewSlidingWindow(d.window)
		d.windows[key] = window
	}
	return window
}
