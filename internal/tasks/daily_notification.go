package tasks

import (
	"context"
	"fmt"

	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"

	"gorm.io/gorm"
)

const dailyReminderText = "Good morning! Remember to record today's activities on your plots."

// DailyNotification sends one reminder to every user with a linked chat.
func (t *Tasks) DailyNotification(ctx context.Context, run *jobs.Run, _ jobs.DailyNotificationPayload) error {
	if t.Notifier == nil {
		run.Warn(ctx, "notifier not configured, skipping", nil)
		return nil
	}

	db := t.DB.WithContext(ctx)
	recipients := func() *gorm.DB {
		return db.Model(&farm.User{}).Where("chat_id IS NOT NULL AND chat_id <> ''")
	}

	var total int64
	if err := recipients().Count(&total).Error; err != nil {
		return fmt.Errorf("count recipients: %w", err)
	}
	run.Info(ctx, fmt.Sprintf("sending daily reminder to %d users", total), nil)
	if total == 0 {
		return nil
	}

	var sent int64
	last := ""
	for {
		var users []farm.User
		if err := recipients().
			Where("id > ?", last).
			Order("id ASC").
			Limit(t.batchSize()).
			Find(&users).Error; err != nil {
			return fmt.Errorf("page recipients: %w", err)
		}
		if len(users) == 0 {
			break
		}
		for _, u := range users {
			if err := t.Notifier.Notify(ctx, u.ID, *u.ChatID, dailyReminderText); err != nil {
				return fmt.Errorf("notify user %s: %w", u.ID, err)
			}
			sent++
		}
		last = users[len(users)-1].ID
		if err := run.Progress(ctx, "notification", sent, &total); err != nil {
			return err
		}
		if err := run.Touch(ctx); err != nil {
			return err
		}
	}
	run.Info(ctx, fmt.Sprintf("sent %d reminders", sent), nil)
	return nil
}
