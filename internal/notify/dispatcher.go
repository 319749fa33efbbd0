// Package notify fans committed notifications out to email and to an
// optional CloudEvents webhook. Delivery happens after the transaction that
// stored the notification commits, so a failure here never undoes it.
package notify

import (
	"context"
	"sync"
	"time"

	"eurobansync/api/internal/email"
	"eurobansync/api/internal/logger"
	"eurobansync/api/internal/store"
)

type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (store.Profile, error)
}

type Mailer interface {
	IsConfigured() bool
	SendNotification(ctx context.Context, to string, data email.NotificationData) error
}

// Sink publishes notifications to an external system.
type Sink interface {
	Publish(ctx context.Context, n store.Notification) error
}

type Dispatcher struct {
	log      *logger.Logger
	profiles ProfileLookup
	mailer   Mailer
	sink     Sink
	linkBase string
	timeout  time.Duration
	wg       sync.WaitGroup
}

type Options struct {
	Profiles ProfileLookup
	Mailer   Mailer // nil or unconfigured disables email
	Sink     Sink   // nil disables the webhook
	LinkBase string
	Timeout  time.Duration
}

func NewDispatcher(log *logger.Logger, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Dispatcher{
		log:      log.With("component", "notify"),
		profiles: opts.Profiles,
		mailer:   opts.Mailer,
		sink:     opts.Sink,
		linkBase: opts.LinkBase,
		timeout:  opts.Timeout,
	}
}

// Dispatch delivers notifications in the background. It never blocks the
// request that produced them and never reports failures to it.
func (d *Dispatcher) Dispatch(notifications ...store.Notification) {
	if d == nil || len(notifications) == 0 {
		return
	}
	emailOn := d.mailer != nil && d.mailer.IsConfigured() && d.profiles != nil
	if !emailOn && d.sink == nil {
		return
	}
	for _, n := range notifications {
		d.wg.Add(1)
		go func(n store.Notification) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if emailOn {
				d.sendEmail(ctx, n)
			}
			if d.sink != nil {
				if err := d.sink.Publish(ctx, n); err != nil {
					d.log.Warn("publish notification failed", "notification_id", n.ID, "error", err)
				}
			}
		}(n)
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, n store.Notification) {
	profile, err := d.profiles.GetProfile(ctx, n.UserID)
	if err != nil {
		d.log.Warn("notification recipient lookup failed", "user_id", n.UserID, "error", err)
		return
	}
	if profile.Email == "" {
		return
	}
	err = d.mailer.SendNotification(ctx, profile.Email, email.NotificationData{
		RecipientName: profile.FullName,
		Title:         n.Title,
		Message:       n.Message,
		DocumentURL:   d.linkBase,
	})
	if err != nil {
		d.log.Warn("notification email failed", "notification_id", n.ID, "user_id", n.UserID, "error", err)
		return
	}
	d.log.Debug("notification email sent", "notification_id", n.ID, "user_id", n.UserID)
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
