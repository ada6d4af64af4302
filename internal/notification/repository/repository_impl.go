package repository

import (
	"context"

	notificationdomain "github.com/Pasandul2/ZORO9X-sub000/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() notificationdomain.Repository {
	return &repo{}
}

func (r *repo) FindActiveTemplate(ctx context.Context, db *gorm.DB, name string) (*notificationdomain.Template, error) {
	var rows []notificationdomain.Template
	err := db.WithContext(ctx).Raw(
		`SELECT name, subject, body_html, COALESCE(body_text, '') AS body_text
		FROM email_templates
		WHERE name = ? AND is_active = ?`,
		name,
		true,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notificationdomain.ErrTemplateNotFound
	}
	return &rows[0], nil
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, entry *notificationdomain.EmailLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO email_logs (id, template_name, recipient_email, subject, status, error_message, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.TemplateName,
		entry.RecipientEmail,
		entry.Subject,
		entry.Status,
		entry.ErrorMessage,
		entry.SentAt,
		entry.CreatedAt,
	).Error
}
