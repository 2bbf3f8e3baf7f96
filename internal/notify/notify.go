// Package notify sends desktop notifications via D-Bus.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cpuguy83/calslot/internal/calendar"
)

const (
	notifyInterface = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
)

// Notifier sends desktop notifications via D-Bus.
type Notifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string
	loc     *time.Location
}

// New connects to the session bus. Booking times are shown in loc.
func New(appName string, loc *time.Location) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	return &Notifier{
		conn:    conn,
		obj:     conn.Object(notifyInterface, notifyPath),
		appName: appName,
		loc:     loc,
	}, nil
}

// Close closes the D-Bus connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Notification is one desktop notification. A zero Timeout uses the
// server default and a negative one keeps it until dismissed.
type Notification struct {
	Summary string
	Body    string
	Icon    string
	Timeout time.Duration
	Urgency Urgency
}

// Urgency is the freedesktop urgency hint.
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// expireTimeout maps Timeout to the Notify expire_timeout argument in
// milliseconds, where -1 means server default and 0 means never.
func (n Notification) expireTimeout() int32 {
	switch {
	case n.Timeout > 0:
		return int32(n.Timeout.Milliseconds())
	case n.Timeout < 0:
		return 0
	default:
		return -1
	}
}

// Send shows notif and returns the server's notification ID.
func (n *Notifier) Send(ctx context.Context, notif Notification) (uint32, error) {
	icon := notif.Icon
	if icon == "" {
		icon = "x-office-calendar"
	}
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(notif.Urgency))}

	// app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout
	call := n.obj.CallWithContext(ctx, notifyInterface+".Notify", 0,
		n.appName, uint32(0), icon, notif.Summary, notif.Body, []string{}, hints, notif.expireTimeout())

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("send notification: %w", err)
	}
	slog.Debug("sent notification", "id", id, "summary", notif.Summary)
	return id, nil
}

// BookingNotification describes a newly created meeting.
func BookingNotification(b *calendar.Booking, loc *time.Location) Notification {
	if loc == nil {
		loc = time.Local
	}
	start, end := b.Start.In(loc), b.End.In(loc)

	body := fmt.Sprintf("%s, %s - %s", start.Format("Mon Jan 2"), start.Format("15:04"), end.Format("15:04"))
	if b.Link != "" {
		body += "\n" + b.Link
	}
	return Notification{
		Summary: "Booked: " + b.Summary,
		Body:    body,
		Urgency: UrgencyNormal,
	}
}

// BookingCreated announces b on the desktop.
func (n *Notifier) BookingCreated(ctx context.Context, b *calendar.Booking) error {
	_, err := n.Send(ctx, BookingNotification(b, n.loc))
	return err
}
