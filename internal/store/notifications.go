package store

import "context"

// MarkNotificationSent records an intent to send and reports whether this is
// the first send for (date, channel, message_hash). A false return means the
// same notification already went out that day and the caller must skip.
func (s *Store) MarkNotificationSent(ctx context.Context, date, channel, messageHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notifications_sent (date, channel, message_hash)
		VALUES ($1,$2,$3)
		ON CONFLICT (date, channel, message_hash) DO NOTHING
	`, date, channel, messageHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
