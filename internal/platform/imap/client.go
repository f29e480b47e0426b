package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	goimap "github.com/emersion/go-imap"
	goimapclient "github.com/emersion/go-imap/client"
)

// Config holds the mail server connection settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TLS         bool
	AuthTimeout time.Duration
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SearchCriteria is the protocol-independent search derived from a vendor's
// ingestion filter. Subject carries only a safe literal substring; real
// regex matching happens client-side after fetch.
type SearchCriteria struct {
	Unseen  bool
	From    string
	Subject string
	Since   time.Time
}

// RawMessage is one fetched message: its sequence number and the full raw
// RFC 822 body, fetched with peek so the message is not marked seen.
type RawMessage struct {
	SeqNum uint32
	Raw    []byte
}

// Session is one authenticated connection with the inbox selected.
// Implementations are not safe for concurrent use; the engine drives one
// session per ingestion run.
type Session interface {
	// Search returns the sequence numbers matching the criteria.
	Search(criteria SearchCriteria) ([]uint32, error)

	// Fetch retrieves the raw messages for the given sequence numbers
	// without marking them seen.
	Fetch(seqNums []uint32) ([]*RawMessage, error)

	// MarkSeen adds the \Seen flag to one message.
	MarkSeen(seqNum uint32) error

	// Close logs out and drops the connection. Safe to call on every
	// exit path.
	Close() error
}

// Dialer opens mail sessions.
type Dialer interface {
	// Dial connects, authenticates within the configured auth timeout,
	// and selects INBOX.
	Dial(ctx context.Context) (Session, error)
}

// TLSDialer is the production Dialer speaking IMAP4 over TLS.
type TLSDialer struct {
	config Config
}

// NewTLSDialer creates a Dialer for the given server config.
func NewTLSDialer(config Config) *TLSDialer {
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = 30 * time.Second
	}
	return &TLSDialer{config: config}
}

// Ensure TLSDialer implements the Dialer interface
var _ Dialer = (*TLSDialer)(nil)

// Dial implements Dialer. The net dialer bounds the TCP/TLS handshake and
// the client timeout bounds LOGIN and every later command, so a wedged
// server cannot hang an ingestion run indefinitely.
func (d *TLSDialer) Dial(ctx context.Context) (Session, error) {
	netDialer := &net.Dialer{Timeout: d.config.AuthTimeout}

	var c *goimapclient.Client
	var err error
	if d.config.TLS {
		c, err = goimapclient.DialWithDialerTLS(netDialer, d.config.Addr(), &tls.Config{
			ServerName: d.config.Host,
		})
	} else {
		c, err = goimapclient.DialWithDialer(netDialer, d.config.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.config.Addr(), err)
	}
	c.Timeout = d.config.AuthTimeout

	if err := ctx.Err(); err != nil {
		_ = c.Logout()
		return nil, err
	}

	if err := c.Login(d.config.Username, d.config.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login failed for %s: %w", d.config.Username, err)
	}

	if _, err := c.Select("INBOX", false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	return &tlsSession{client: c}, nil
}

// tlsSession adapts the go-imap client to the Session interface.
type tlsSession struct {
	client *goimapclient.Client
}

func (s *tlsSession) Search(criteria SearchCriteria) ([]uint32, error) {
	c := goimap.NewSearchCriteria()
	if criteria.Unseen {
		c.WithoutFlags = append(c.WithoutFlags, goimap.SeenFlag)
	}
	if criteria.From != "" {
		c.Header.Add("From", criteria.From)
	}
	if criteria.Subject != "" {
		c.Header.Add("Subject", criteria.Subject)
	}
	if !criteria.Since.IsZero() {
		c.Since = criteria.Since
	}

	seqNums, err := s.client.Search(c)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return seqNums, nil
}

func (s *tlsSession) Fetch(seqNums []uint32) ([]*RawMessage, error) {
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(seqNums...)

	// BODY.PEEK[] so fetching never flips the \Seen flag; marking seen is
	// a separate, explicit step after successful processing.
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{goimap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *goimap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqset, items, messages)
	}()

	var fetched []*RawMessage
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read message %d body: %w", msg.SeqNum, err)
		}
		fetched = append(fetched, &RawMessage{SeqNum: msg.SeqNum, Raw: raw})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	return fetched, nil
}

func (s *tlsSession) MarkSeen(seqNum uint32) error {
	seqset := new(goimap.SeqSet)
	seqset.AddNum(seqNum)
	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	if err := s.client.Store(seqset, item, []interface{}{goimap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark message %d seen: %w", seqNum, err)
	}
	return nil
}

func (s *tlsSession) Close() error {
	return s.client.Logout()
}
