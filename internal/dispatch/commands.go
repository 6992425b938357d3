// ABOUTME: Menu commands available outside a booking dialogue
// ABOUTME: help, book, status, language, notifications, login, logout, cancel

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/booking"
	"github.com/2389/garage-assistant/internal/store"
)

// MenuText lists the commands. It is also shown when a dialogue ends without a booking.
const MenuText = `**What would you like to do?**

- *book* to book a service appointment (or *book <vehicle-id>*)
- *status* to see your login and settings
- *language <tag>*, for example *language de*
- *notifications* to switch notifications on or off
- *login <email> <password>* or *logout*
- *help* to show this menu`

// Command replies
const (
	MsgUnknownCommand = "I didn't understand that. Send *help* to see what I can do."
	MsgNothingToStop  = "There is no booking in progress."
	MsgLoginUsage     = "Usage: `login <email> <password>`"
	MsgLoginFailed    = "Login failed: the email or password is wrong."
	MsgLoggedOut      = "You are logged out."
	MsgLanguageUsage  = "Usage: `language <tag>`, for example `language de`."
)

type command func(ctx context.Context, conversationID string, args []string) error

func (d *Dispatcher) commandTable() map[string]command {
	help := func(ctx context.Context, conversationID string, _ []string) error {
		return d.reply(ctx, conversationID, MenuText)
	}
	return map[string]command{
		"help":          help,
		"start":         help,
		"menu":          help,
		"book":          d.cmdBook,
		"status":        d.cmdStatus,
		"language":      d.cmdLanguage,
		"notifications": d.cmdNotifications,
		"login":         d.cmdLogin,
		"logout":        d.cmdLogout,
		"cancel":        d.cmdCancel,
	}
}

func (d *Dispatcher) runCommand(ctx context.Context, conversationID, text string) error {
	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))

	cmd, ok := d.commands[name]
	if !ok {
		return d.reply(ctx, conversationID, MsgUnknownCommand)
	}
	d.logger.Debug("command", "conversation_id", conversationID, "command", name)
	return cmd(ctx, conversationID, fields[1:])
}

func (d *Dispatcher) cmdBook(ctx context.Context, conversationID string, args []string) error {
	vehicleID := ""
	if len(args) > 0 {
		vehicleID = args[0]
	}
	return d.flow.Start(ctx, conversationID, vehicleID)
}

func (d *Dispatcher) cmdCancel(ctx context.Context, conversationID string, _ []string) error {
	return d.reply(ctx, conversationID, MsgNothingToStop)
}

func (d *Dispatcher) cmdStatus(ctx context.Context, conversationID string, _ []string) error {
	linked, err := d.accounts.IsLinked(ctx, conversationID)
	if err != nil {
		return d.replyError(ctx, conversationID, err)
	}

	ident, err := d.accounts.GetIdentity(ctx, conversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return d.replyError(ctx, conversationID, err)
	}

	account := "not logged in"
	language := "default (English)"
	notifications := "on"
	if ident != nil {
		if linked && ident.AccountID != "" {
			account = "logged in as account " + ident.AccountID
		}
		if ident.Language != "" {
			language = ident.Language
		}
		if !ident.NotificationsEnabled {
			notifications = "off"
		}
	}

	return d.reply(ctx, conversationID, strings.Join([]string{
		"**Status**",
		"",
		"- Account: " + account,
		"- Language: " + language,
		"- Notifications: " + notifications,
	}, "\n"))
}

func (d *Dispatcher) cmdLanguage(ctx context.Context, conversationID string, args []string) error {
	if len(args) != 1 {
		return d.reply(ctx, conversationID, MsgLanguageUsage)
	}
	tag, err := d.accounts.SetLanguage(ctx, conversationID, args[0])
	if err != nil {
		d.logger.Info("language rejected", "conversation_id", conversationID, "input", args[0], "error", err)
		return d.reply(ctx, conversationID, fmt.Sprintf("%q is not a language I know. %s", args[0], MsgLanguageUsage))
	}
	return d.reply(ctx, conversationID, "Language set to "+tag+".")
}

func (d *Dispatcher) cmdNotifications(ctx context.Context, conversationID string, _ []string) error {
	enabled, err := d.accounts.ToggleNotifications(ctx, conversationID)
	if err != nil {
		return d.replyError(ctx, conversationID, err)
	}
	state := "off"
	if enabled {
		state = "on"
	}
	return d.reply(ctx, conversationID, "Notifications are now "+state+".")
}

func (d *Dispatcher) cmdLogin(ctx context.Context, conversationID string, args []string) error {
	if len(args) != 2 {
		return d.reply(ctx, conversationID, MsgLoginUsage)
	}

	resp, err := d.authn.Login(ctx, args[0], args[1])
	if err != nil {
		switch backend.StatusCode(err) {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
			d.logger.Info("login rejected", "conversation_id", conversationID)
			return d.reply(ctx, conversationID, MsgLoginFailed)
		}
		return d.replyError(ctx, conversationID, err)
	}

	if err := d.accounts.Link(ctx, conversationID, resp.UserID.String(), resp.Token, resp.ExpiresAt); err != nil {
		return d.replyError(ctx, conversationID, err)
	}
	return d.reply(ctx, conversationID, "You are logged in. Send *book* to book an appointment.")
}

func (d *Dispatcher) cmdLogout(ctx context.Context, conversationID string, _ []string) error {
	if _, err := d.flow.Cancel(ctx, conversationID); err != nil {
		d.logger.Warn("failed to discard booking on logout", "conversation_id", conversationID, "error", err)
	}
	if err := d.accounts.Unlink(ctx, conversationID); err != nil {
		return d.replyError(ctx, conversationID, err)
	}
	return d.reply(ctx, conversationID, MsgLoggedOut)
}

// replyError logs err and sends its sanitized rendering.
func (d *Dispatcher) replyError(ctx context.Context, conversationID string, err error) error {
	d.logger.Error("command failed", "conversation_id", conversationID, "error", err)
	return d.reply(ctx, conversationID, booking.UserMessage(err))
}
