package main

import (
	"context"
	"log/slog"

	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/events"
)

// registerNotifications logs the events an operator has to follow up on.
func registerNotifications(bus eventbus.EventSubscriber, logger *slog.Logger) error {
	err := bus.Handle(events.NodesPendingEvent, func(ctx context.Context, event any) error {
		pending, ok := event.(*events.NodesPending)
		if !ok {
			return nil
		}

		logger.WarnContext(ctx, "nodes are ready but could not be created by the acting user",
			"instance_id", pending.InstanceID,
			"completed_node_id", pending.CompletedNodeID,
			"node_ids", pending.NodeIDs,
			"actor_id", pending.ActorID,
		)

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Handle(events.TaskOverdueEvent, func(ctx context.Context, event any) error {
		overdue, ok := event.(*events.TaskOverdue)
		if !ok {
			return nil
		}

		logger.WarnContext(ctx, "task is overdue",
			"instance_id", overdue.InstanceID,
			"task_id", overdue.TaskID,
			"assigned_role", overdue.AssignedRole,
			"assignee_user_id", overdue.AssigneeUserID,
			"overdue_by", overdue.OverdueBy.String(),
		)

		return nil
	})
}
