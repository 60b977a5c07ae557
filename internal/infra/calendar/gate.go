package calendar

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/domain/calendar"
)

// Grants is a mutable calendar.Permissions.
type Grants struct {
	read  atomic.Bool
	write atomic.Bool
}

func NewGrants(read, write bool) *Grants {
	g := &Grants{}
	g.read.Store(read)
	g.write.Store(write)
	return g
}

func (g *Grants) CanRead() bool  { return g.read.Load() }
func (g *Grants) CanWrite() bool { return g.write.Load() }

func (g *Grants) SetRead(v bool)  { g.read.Store(v) }
func (g *Grants) SetWrite(v bool) { g.write.Store(v) }

// Gate degrades a bridge to empty results and no-op writes while the
// matching permission is missing.
type Gate struct {
	next  calendar.Bridge
	perms calendar.Permissions
	log   *logrus.Entry
}

func NewGate(next calendar.Bridge, perms calendar.Permissions, log *logrus.Entry) *Gate {
	return &Gate{next: next, perms: perms, log: log.WithField("component", "calendar_gate")}
}

func (g *Gate) ListAvailableCalendars(ctx context.Context) ([]calendar.Calendar, error) {
	if !g.perms.CanRead() {
		return nil, nil
	}
	return g.next.ListAvailableCalendars(ctx)
}

func (g *Gate) QueryFutureInstances(ctx context.Context, from, to time.Time, calendarID string) ([]calendar.Instance, error) {
	if !g.perms.CanRead() {
		g.log.Debug("Calendar read not granted, no instances")
		return nil, nil
	}
	return g.next.QueryFutureInstances(ctx, from, to, calendarID)
}

func (g *Gate) InsertEvent(ctx context.Context, calendarID string, ev calendar.EventInput) (string, error) {
	if !g.perms.CanWrite() {
		g.log.Debug("Calendar write not granted, insert skipped")
		return "", nil
	}
	return g.next.InsertEvent(ctx, calendarID, ev)
}

func (g *Gate) UpdateEvent(ctx context.Context, eventID string, ev calendar.EventInput) (bool, error) {
	if !g.perms.CanWrite() {
		return false, nil
	}
	return g.next.UpdateEvent(ctx, eventID, ev)
}

func (g *Gate) DeleteEvent(ctx context.Context, eventID string) (bool, error) {
	if !g.perms.CanWrite() {
		return false, nil
	}
	return g.next.DeleteEvent(ctx, eventID)
}
