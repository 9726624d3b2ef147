package service

import (
	"context"
	"fmt"

	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200
)

// ListNotifications returns the actor's own inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, actor models.Actor, unreadOnly bool, limit int) ([]*models.Notification, error) {
	const op = "service.ListNotifications"

	switch {
	case limit <= 0:
		limit = defaultInboxLimit
	case limit > maxInboxLimit:
		limit = maxInboxLimit
	}

	var list []*models.Notification
	err := s.retry(ctx, op, func() error {
		var err error
		list, err = s.inbox.ListNotifications(ctx, actor.UserID, unreadOnly, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return list, nil
}

// MarkNotificationRead stamps readAt once. Only the recipient may do it; anyone else
// gets NotFound so inbox contents do not leak.
func (s *Service) MarkNotificationRead(ctx context.Context, actor models.Actor, id string) (*models.Notification, error) {
	const op = "service.MarkNotificationRead"

	if id == "" {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "notification id is required"))
	}

	var n *models.Notification
	err := s.retry(ctx, op, func() error {
		var err error
		n, err = s.inbox.MarkNotificationRead(ctx, id, actor.UserID, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
