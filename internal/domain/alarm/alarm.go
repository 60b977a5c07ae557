// Package alarm describes wake-up timers registered with the platform.
package alarm

import (
	"context"
	"fmt"
	"time"
)

// Purpose distinguishes the kinds of timers the engine registers.
type Purpose uint8

const (
	PurposeFire Purpose = iota + 1
	PurposeSnooze
	PurposeCalendarSync
)

func (p Purpose) String() string {
	switch p {
	case PurposeFire:
		return "fire"
	case PurposeSnooze:
		return "snooze"
	case PurposeCalendarSync:
		return "calendar-sync"
	default:
		return fmt.Sprintf("purpose(%d)", uint8(p))
	}
}

// Mode is the delivery guarantee requested from the platform.
type Mode uint8

const (
	ModeInexact Mode = iota
	ModeExact
	ModeGuaranteed // alarm-clock class, always fires on time
)

func (m Mode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModeGuaranteed:
		return "guaranteed"
	default:
		return "inexact"
	}
}

const idMask = 0x0FFFFFFF

// Token identifies a registered timer. Two tokens with the same purpose and
// reminder id refer to the same timer; registering one replaces the other.
type Token struct {
	Purpose    Purpose
	ReminderID int64
}

func FireToken(reminderID int64) Token {
	return Token{Purpose: PurposeFire, ReminderID: reminderID}
}

func SnoozeToken(reminderID int64) Token {
	return Token{Purpose: PurposeSnooze, ReminderID: reminderID}
}

func SyncToken() Token {
	return Token{Purpose: PurposeCalendarSync}
}

// RequestCode derives the platform request code for the token. The purpose
// occupies the high bits so fire, snooze and sync codes never collide.
func (t Token) RequestCode() int32 {
	return int32(uint32(t.Purpose)<<28 | uint32(t.ReminderID&idMask))
}

func (t Token) String() string {
	if t.Purpose == PurposeCalendarSync {
		return t.Purpose.String()
	}
	return fmt.Sprintf("%s:%d", t.Purpose, t.ReminderID)
}

// Payload travels with a timer and is handed back when it fires.
type Payload struct {
	ReminderID int64
	Message    string
}

var ErrExactNotPermitted = fmt.Errorf("exact alarms are not permitted")

// Receiver is invoked by the platform when a timer fires.
type Receiver func(ctx context.Context, token Token, payload Payload)

// Platform is the OS wake-up timer service.
type Platform interface {
	// Set registers or replaces the timer for token. Exact mode returns
	// ErrExactNotPermitted when the permission is missing.
	Set(ctx context.Context, mode Mode, at time.Time, token Token, payload Payload) error
	// Cancel removes the timer for token; unknown tokens are ignored.
	Cancel(ctx context.Context, token Token) error
	CanScheduleExact() bool
}
