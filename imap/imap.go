package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mailbox-export/model"
)

var (
	ErrInvalidUID      = errors.New("invalid message uid")
	ErrMessageNotFound = errors.New("message not found")
	ErrClosed          = errors.New("imap source closed")
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
}

// Source reads messages from an IMAP server. All commands share one
// connection; it is re-established after a deadline forced it closed.
type Source struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	client   *imapclient.Client
	selected string
	closed   bool
}

func New(opts Options, logger *slog.Logger) (*Source, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{opts: opts, logger: logger}, nil
}

// Folders lists every selectable mailbox.
func (s *Source) Folders(ctx context.Context) ([]string, error) {
	var folders []string
	err := s.do(ctx, func(client *imapclient.Client) error {
		mailboxes, err := client.List("", "*", nil).Collect()
		if err != nil {
			return fmt.Errorf("list mailboxes: %w", err)
		}
		folders = selectable(mailboxes)
		return nil
	})
	return folders, err
}

func selectable(mailboxes []*imapv2.ListData) []string {
	names := make([]string, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		if hasAttr(mbox.Attrs, imapv2.MailboxAttrNoSelect) || hasAttr(mbox.Attrs, imapv2.MailboxAttrNonExistent) {
			continue
		}
		names = append(names, mbox.Mailbox)
	}
	sort.Strings(names)
	return names
}

func hasAttr(attrs []imapv2.MailboxAttr, want imapv2.MailboxAttr) bool {
	for _, attr := range attrs {
		if attr == want {
			return true
		}
	}
	return false
}

// List returns the UIDs of every message in folder, ascending.
func (s *Source) List(ctx context.Context, folder string) ([]string, error) {
	var ids []string
	err := s.do(ctx, func(client *imapclient.Client) error {
		if err := s.selectFolder(client, folder); err != nil {
			return err
		}
		data, err := client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
		if err != nil {
			return fmt.Errorf("search %s: %w", folder, err)
		}
		uids := data.AllUIDs()
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		ids = make([]string, len(uids))
		for i, uid := range uids {
			ids[i] = strconv.FormatUint(uint64(uid), 10)
		}
		return nil
	})
	return ids, err
}

// Fetch downloads one message without setting \Seen.
func (s *Source) Fetch(ctx context.Context, folder, id string) (model.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return model.Message{}, err
	}

	var msg model.Message
	err = s.do(ctx, func(client *imapclient.Client) error {
		if err := s.selectFolder(client, folder); err != nil {
			return err
		}

		section := &imapv2.FetchItemBodySection{Peek: true}
		cmd := client.Fetch(imapv2.UIDSetNum(uid), &imapv2.FetchOptions{
			UID:          true,
			InternalDate: true,
			RFC822Size:   true,
			BodySection:  []*imapv2.FetchItemBodySection{section},
		})
		defer cmd.Close()

		data := cmd.Next()
		if data == nil {
			if err := cmd.Close(); err != nil {
				return fmt.Errorf("fetch %s/%s: %w", folder, id, err)
			}
			return fmt.Errorf("%w: %s/%s", ErrMessageNotFound, folder, id)
		}
		buf, err := data.Collect()
		if err != nil {
			return fmt.Errorf("fetch %s/%s: %w", folder, id, err)
		}
		raw := buf.FindBodySection(section)
		if raw == nil {
			return fmt.Errorf("%w: %s/%s has no body", ErrMessageNotFound, folder, id)
		}

		msg = model.Message{
			ID:         id,
			Folder:     folder,
			ReceivedAt: buf.InternalDate,
			Size:       buf.RFC822Size,
			Raw:        raw,
		}
		if msg.Size == 0 {
			msg.Size = int64(len(raw))
		}
		return cmd.Close()
	})
	return msg, err
}

func parseUID(id string) (imapv2.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUID, id)
	}
	return imapv2.UID(n), nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client == nil {
		return nil
	}
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Warn("imap logout failed", "err", err)
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// do runs fn on the shared connection. The connection is closed when ctx
// ends mid-command, which unblocks fn; the next call dials again.
func (s *Source) do(ctx context.Context, fn func(*imapclient.Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.client == nil {
		client, err := s.dial()
		if err != nil {
			return err
		}
		s.client = client
		s.selected = ""
	}

	client := s.client
	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	err := fn(client)
	if !stop() {
		s.client = nil
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
	}
	return err
}

func (s *Source) selectFolder(client *imapclient.Client, folder string) error {
	if s.selected == folder {
		return nil
	}
	if _, err := client.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		s.selected = ""
		return fmt.Errorf("select %s: %w", folder, err)
	}
	s.selected = folder
	return nil
}

func (s *Source) dial() (*imapclient.Client, error) {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "tls", s.opts.UseTLS)
	return client, nil
}
