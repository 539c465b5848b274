package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/Zachkp/folio/internal/lazyembed"
	"github.com/Zachkp/folio/internal/page"
)

const (
	eventBuffer    = 64
	eventKeepalive = 15 * time.Second
)

type viewportRequest struct {
	Width   float64 `json:"width" binding:"gt=0"`
	Height  float64 `json:"height" binding:"gt=0"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
	Touch   bool    `json:"touch"`
}

func (v viewportRequest) viewport(userAgent string) lazyembed.Viewport {
	return lazyembed.Viewport{
		Width:     v.Width,
		Height:    v.Height,
		ScrollX:   v.ScrollX,
		ScrollY:   v.ScrollY,
		Touch:     v.Touch,
		UserAgent: userAgent,
	}
}

type regionRequest struct {
	Region lazyembed.Rect `json:"region"`
}

type failedRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type sessionResponse struct {
	ID       string               `json:"id"`
	Sections []page.Section       `json:"sections"`
	Slots    []lazyembed.Snapshot `json:"slots"`
}

func (s *server) createSession(c *gin.Context) {
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.registry.Create(req.viewport(c.GetHeader("User-Agent")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse{ID: sess.ID(), Sections: sess.Sections(), Slots: sess.Snapshot()})
}

func (s *server) sessionState(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponse{ID: sess.ID(), Sections: sess.Sections(), Slots: sess.Snapshot()})
}

func (s *server) closeSession(c *gin.Context) {
	if err := s.registry.Close(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) updateViewport(c *gin.Context) {
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.apply(c, func(sess *page.Session) error {
		return sess.UpdateViewport(req.viewport(c.GetHeader("User-Agent")))
	})
}

func (s *server) mountSlot(c *gin.Context) {
	var req regionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.apply(c, func(sess *page.Session) error { return sess.Mount(c.Param("slot"), req.Region) })
}

func (s *server) layoutSlot(c *gin.Context) {
	var req regionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.apply(c, func(sess *page.Session) error { return sess.Layout(c.Param("slot"), req.Region) })
}

func (s *server) slotLoaded(c *gin.Context) {
	s.apply(c, func(sess *page.Session) error { return sess.Loaded(c.Param("slot")) })
}

func (s *server) slotFailed(c *gin.Context) {
	var req failedRequest
	// an empty body is a failure without a reason
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	s.apply(c, func(sess *page.Session) error { return sess.Failed(c.Param("slot"), req.Reason) })
}

func (s *server) unmountSlot(c *gin.Context) {
	s.apply(c, func(sess *page.Session) error { return sess.Unmount(c.Param("slot")) })
}

// slotFragment renders the slot's current presentation for HTMX swaps.
func (s *server) slotFragment(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	snap, err := sess.SlotSnapshot(c.Param("slot"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "embed-slot.html", slotView(sess.ID(), snap, s.sectionTitle(snap.Slot)))
}

func slotView(sessionID string, snap lazyembed.Snapshot, title string) gin.H {
	return gin.H{
		"session":  sessionID,
		"slot":     snap.Slot,
		"title":    title,
		"resource": string(snap.Resource),
		"mode":     snap.Presentation.String(),
		"state":    snap.State.String(),
		"large":    snap.Large,
		"reason":   snap.Reason,
		"fallback": FallbackText,
	}
}

func (s *server) sectionTitle(slot string) string {
	for _, sec := range s.cfg.Sections {
		if sec.Slot == slot {
			return sec.Title
		}
	}
	return slot
}

// streamEvents pushes one "slot" event per snapshot: first the current view
// of every slot, then each change until the page session ends.
func (s *server) streamEvents(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	updates, cancel := sess.Subscribe(eventBuffer)
	defer cancel()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, snap := range sess.Snapshot() {
		if err := writeSlotEvent(w, snap); err != nil {
			return
		}
	}
	w.Flush()

	keepalive := time.NewTicker(eventKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-s.done:
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			w.Flush()
		case snap, open := <-updates:
			if !open {
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				w.Flush()
				return
			}
			if err := writeSlotEvent(w, snap); err != nil {
				return
			}
			w.Flush()
		}
	}
}

func writeSlotEvent(w gin.ResponseWriter, snap lazyembed.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: slot\ndata: %s\n\n", data)
	return err
}

func (s *server) session(c *gin.Context) (*page.Session, bool) {
	sess, err := s.registry.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return sess, true
}

func (s *server) apply(c *gin.Context, fn func(*page.Session) error) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := fn(sess); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
