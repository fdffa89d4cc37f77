package session

import (
	"net"

	"go.uber.org/zap"

	"lanchat/models"
	"lanchat/network"
)

const notificationPreviewRunes = 50

// handleEnvelope runs on the connection goroutine for every decoded envelope.
func (s *Session) handleEnvelope(envelope network.Envelope, remote net.Addr) {
	msg := envelope.Payload

	if msg.ToID != s.identity.ID() {
		s.metrics.EnvelopesDropped.WithLabelValues("wrong_recipient").Inc()
		s.log.Debug("discarding message for another node",
			zap.String("message_id", msg.ID),
			zap.String("to_id", msg.ToID),
			zap.Stringer("remote", remote))
		return
	}
	if s.seen.MarkSeen(msg.ID) {
		s.metrics.EnvelopesDropped.WithLabelValues("duplicate").Inc()
		s.log.Debug("discarding duplicate message",
			zap.String("message_id", msg.ID),
			zap.Stringer("remote", remote))
		return
	}

	if err := s.messages.Append(msg); err != nil {
		// Not logged, so a redelivery must not count as a duplicate.
		s.seen.Forget(msg.ID)
		s.log.Warn("log received message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	s.metrics.MessagesLogged.Inc()

	if s.opts.OnMessageReceived != nil {
		s.opts.OnMessageReceived(msg)
	}
	if s.opts.OnNotification != nil {
		s.opts.OnNotification(notificationFor(msg))
		s.metrics.NotificationsDelivered.Inc()
	}
}

func notificationFor(msg models.Message) models.Notification {
	notification := models.Notification{Title: "Message from " + msg.FromName}
	if msg.IsFile {
		fileName := ""
		if msg.FileName != nil {
			fileName = *msg.FileName
		}
		notification.Body = "Sent a file: " + fileName
		return notification
	}

	notification.Body = msg.Content
	if runes := []rune(msg.Content); len(runes) > notificationPreviewRunes {
		notification.Body = string(runes[:notificationPreviewRunes])
	}
	return notification
}
