// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/store"
)

// Notifier pairs every per-user publish with a durable inbox row, so a
// subscriber that missed the transient event can rehydrate over REST.
type Notifier struct {
	Store *store.Store
	Pub   Publisher
	Now   func() time.Time
}

func NewNotifier(s *store.Store, pub Publisher) *Notifier {
	return &Notifier{Store: s, Pub: pub, Now: time.Now}
}

// Notify persists the notification and publishes it on the user's channel.
// The row is the source of truth; a failed publish is logged, not surfaced.
func (n *Notifier) Notify(ctx context.Context, notif *domain.Notification) error {
	if notif.ID == "" {
		notif.ID = uuid.NewString()
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = n.Now().UTC()
	}
	if err := n.Store.InsertNotification(ctx, notif); err != nil {
		return err
	}

	err := n.Pub.Publish(ctx, UserChannel(notif.UserID), Event{
		Name: EventNotification,
		Data: map[string]any{
			"id":       notif.ID,
			"type":     notif.Type,
			"title":    notif.Title,
			"body":     notif.Body,
			"metadata": notif.Metadata,
		},
	})
	if err != nil {
		lg := log.WithComponentFromContext(ctx, "bus")
		lg.Warn().Err(err).
			Str(log.FieldUserID, notif.UserID).
			Str(log.FieldEvent, "notify.publish_failed").
			Msg("notification persisted but publish failed; subscriber will rehydrate over REST")
	}
	return nil
}
