package imap

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/watchdogai/report-engine/internal/domain"
)

// ParsedMessage is the decoded form of one raw message: header metadata
// plus its MIME attachments.
type ParsedMessage struct {
	SeqNum      uint32
	From        string
	To          string
	Subject     string
	Date        time.Time
	MessageID   string
	Attachments []domain.Attachment
}

// EmailMessage converts the parsed header into the transient domain record.
func (p *ParsedMessage) EmailMessage(vendor string) domain.EmailMessage {
	return domain.EmailMessage{
		SeqNum:    p.SeqNum,
		From:      p.From,
		To:        p.To,
		Subject:   p.Subject,
		Date:      p.Date,
		MessageID: p.MessageID,
		Vendor:    vendor,
	}
}

// ParseMessage decodes a raw RFC 822 message: header fields used for
// filtering and dedup, and every MIME part carrying an attachment
// disposition. Malformed parts abort the parse so the caller can archive
// the raw message for later inspection.
func ParseMessage(msg *RawMessage) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message %d: %w", msg.SeqNum, err)
	}

	parsed := &ParsedMessage{SeqNum: msg.SeqNum}

	header := mr.Header
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = from[0].Address
	}
	if to, err := header.AddressList("To"); err == nil && len(to) > 0 {
		parsed.To = to[0].Address
	}
	parsed.Subject, _ = header.Subject()
	parsed.Date, _ = header.Date()
	parsed.MessageID, _ = header.MessageID()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read MIME part of message %d: %w", msg.SeqNum, err)
		}

		attachmentHeader, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := attachmentHeader.Filename()
		if err != nil || filename == "" {
			continue
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q of message %d: %w",
				filename, msg.SeqNum, err)
		}
		parsed.Attachments = append(parsed.Attachments, domain.Attachment{
			Filename: filename,
			Content:  content,
		})
	}

	return parsed, nil
}
