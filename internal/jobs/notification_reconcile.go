// File: internal/jobs/notification_reconcile.go
package jobs

import (
	"context"
	"fmt"
	"time"

	"matrimony_sync_backend/internal/session"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const reconcileTimeout = 2 * time.Minute

// SessionSet is the set of live sessions the reconcile job walks.
type SessionSet interface {
	ForEach(fn func(*session.Controller))
}

// NotificationReconcileJob periodically refetches the notification feed of every
// live session, which resets each unread counter to the server's unread-message count.
type NotificationReconcileJob struct {
	sessions      SessionSet
	schedule      string
	logger        *zap.Logger
	cronScheduler *cron.Cron
}

// NewNotificationReconcileJob creates a new NotificationReconcileJob.
func NewNotificationReconcileJob(sessions SessionSet, schedule string, logger *zap.Logger) *NotificationReconcileJob {
	scheduler := cron.New(
		cron.WithLogger(NewCronLogger(logger.Named("cron"))),
		cron.WithChain(cron.SkipIfStillRunning(NewCronLogger(logger.Named("cron")))),
	)
	return &NotificationReconcileJob{
		sessions:      sessions,
		schedule:      schedule,
		logger:        logger.Named("NotificationReconcileJob"),
		cronScheduler: scheduler,
	}
}

// SetupAndStart schedules and starts the cron job.
func (j *NotificationReconcileJob) SetupAndStart() error {
	if j.schedule == "" {
		j.logger.Warn("Notification reconcile schedule not defined (NOTIFICATION_RECONCILE_SCHEDULE). Job will not run.")
		return nil
	}

	jobID, err := j.cronScheduler.AddFunc(j.schedule, j.RunOnce)
	if err != nil {
		j.logger.Error("Failed to schedule notification reconcile job", zap.String("schedule", j.schedule), zap.Error(err))
		return err
	}

	j.logger.Info("Notification reconcile job scheduled", zap.String("schedule", j.schedule), zap.Any("jobID", jobID))
	j.cronScheduler.Start()
	return nil
}

// RunOnce refetches every live session's feed.
func (j *NotificationReconcileJob) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	count := 0
	j.sessions.ForEach(func(c *session.Controller) {
		if ctx.Err() != nil {
			return
		}
		snap := c.Notifications().Fetch(ctx)
		count++
		j.logger.Debug("Reconciled notifications",
			zap.String("user_id", c.Identity().UserID),
			zap.Int("unread", snap.UnreadCount),
		)
	})
	j.logger.Info("Notification reconcile run completed", zap.Int("sessions", count))
}

// Stop gracefully stops the cron scheduler.
func (j *NotificationReconcileJob) Stop() {
	if j.cronScheduler == nil {
		return
	}
	j.logger.Info("Stopping notification reconcile scheduler...")
	stopCtx := j.cronScheduler.Stop()
	select {
	case <-stopCtx.Done():
		j.logger.Info("Notification reconcile scheduler stopped gracefully.")
	case <-time.After(10 * time.Second):
		j.logger.Warn("Notification reconcile scheduler stop timed out.")
	}
}

// cronLogger adapts zap.Logger to cron.Logger interface.
type cronLogger struct {
	zl *zap.Logger
}

// NewCronLogger creates a new cronLogger.
func NewCronLogger(zl *zap.Logger) cron.Logger {
	return &cronLogger{zl: zl}
}

// Info logs routine messages from cron at debug level.
func (cl *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	cl.zl.Debug(msg, cl.fields(keysAndValues...)...)
}

// Error logs error messages from cron.
func (cl *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	cl.zl.Error(msg, append(cl.fields(keysAndValues...), zap.Error(err))...)
}

func (cl *cronLogger) fields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(key, "MISSING_VALUE"))
		}
	}
	return fields
}
