// Package audio keeps the process-wide audio mode and focus state.
package audio

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"call_reminder/internal/app/call"
)

// ErrFocusDenied is returned while another holder owns exclusive focus.
var ErrFocusDenied = fmt.Errorf("audio focus denied")

// Controller is an in-process call.AudioController. Transient requests
// stack on top of each other; a non-transient holder blocks new requests
// until it abandons focus.
type Controller struct {
	log *logrus.Entry

	mu        sync.Mutex
	mode      call.AudioMode
	holders   []holder
	exclusive string
}

type holder struct {
	token string
	req   call.FocusRequest
}

func NewController(log *logrus.Entry) *Controller {
	return &Controller{log: log.WithField("component", "audio")}
}

func (c *Controller) Mode() call.AudioMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) SetMode(m call.AudioMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != m {
		c.log.WithField("mode", modeName(m)).Debug("Audio mode changed")
	}
	c.mode = m
}

func (c *Controller) RequestFocus(req call.FocusRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exclusive != "" {
		return "", ErrFocusDenied
	}
	token := uuid.NewString()
	c.holders = append(c.holders, holder{token: token, req: req})
	if !req.Transient {
		c.exclusive = token
	}
	c.log.WithFields(logrus.Fields{"usage": req.Usage, "holders": len(c.holders)}).Debug("Audio focus granted")
	return token, nil
}

// AbandonFocus releases focus held under token. Unknown tokens are ignored.
func (c *Controller) AbandonFocus(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, h := range c.holders {
		if h.token == token {
			c.holders = append(c.holders[:i], c.holders[i+1:]...)
			break
		}
	}
	if c.exclusive == token {
		c.exclusive = ""
	}
}

// Holders reports how many focus requests are outstanding.
func (c *Controller) Holders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.holders)
}

func modeName(m call.AudioMode) string {
	if m == call.AudioModeInCommunication {
		return "in_communication"
	}
	return "normal"
}
