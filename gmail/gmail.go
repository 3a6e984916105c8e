package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/dhcgn/mailbox-export/model"
)

var (
	ErrMissingCredentials = errors.New("gmail client id, client secret and refresh token are required")
	ErrUnknownLabel       = errors.New("unknown gmail label")
)

type Options struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// User defaults to "me", the authenticated account.
	User string
}

// Source reads messages through the Gmail API. Labels are folders.
type Source struct {
	service *gmailapi.Service
	user    string
	logger  *slog.Logger

	mu     sync.Mutex
	labels map[string]string
}

func New(ctx context.Context, opts Options, logger *slog.Logger) (*Source, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" || opts.RefreshToken == "" {
		return nil, ErrMissingCredentials
	}

	oauth2Config := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: opts.RefreshToken})

	service, err := gmailapi.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewWithService(service, opts.User, logger), nil
}

func NewWithService(service *gmailapi.Service, user string, logger *slog.Logger) *Source {
	if user == "" {
		user = "me"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{service: service, user: user, logger: logger}
}

// Folders returns label names, system labels first.
func (s *Source) Folders(ctx context.Context) ([]string, error) {
	resp, err := s.service.Users.Labels.List(s.user).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}

	sort.SliceStable(resp.Labels, func(i, j int) bool {
		a, b := resp.Labels[i], resp.Labels[j]
		if a.Type != b.Type {
			return a.Type == "system"
		}
		return a.Name < b.Name
	})

	labels := make(map[string]string, len(resp.Labels))
	names := make([]string, 0, len(resp.Labels))
	for _, label := range resp.Labels {
		labels[label.Name] = label.Id
		names = append(names, label.Name)
	}

	s.mu.Lock()
	s.labels = labels
	s.mu.Unlock()
	return names, nil
}

func (s *Source) labelID(ctx context.Context, folder string) (string, error) {
	s.mu.Lock()
	loaded := s.labels != nil
	id, ok := s.labels[folder]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	if !loaded {
		if _, err := s.Folders(ctx); err != nil {
			return "", err
		}
		return s.labelID(ctx, folder)
	}

	// label ids are accepted as well as names
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.labels {
		if id == folder {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownLabel, folder)
}

// List returns the message ids under folder, oldest first.
func (s *Source) List(ctx context.Context, folder string) ([]string, error) {
	labelID, err := s.labelID(ctx, folder)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = s.service.Users.Messages.List(s.user).LabelIds(labelID).Pages(ctx, func(page *gmailapi.ListMessagesResponse) error {
		for _, msg := range page.Messages {
			ids = append(ids, msg.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages in %s: %w", folder, err)
	}

	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

func (s *Source) Fetch(ctx context.Context, folder, id string) (model.Message, error) {
	msg, err := s.service.Users.Messages.Get(s.user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return model.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}

	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return model.Message{}, fmt.Errorf("decode message %s: %w", id, err)
	}

	out := model.Message{
		ID:     id,
		Folder: folder,
		Size:   msg.SizeEstimate,
		Raw:    raw,
	}
	if msg.InternalDate > 0 {
		out.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if out.Size == 0 {
		out.Size = int64(len(raw))
	}
	return out, nil
}

func (s *Source) Close() error {
	return nil
}

// decodeRaw accepts padded and unpadded base64url.
func decodeRaw(raw string) ([]byte, error) {
	if strings.HasSuffix(raw, "=") {
		return base64.URLEncoding.DecodeString(raw)
	}
	return base64.RawURLEncoding.DecodeString(raw)
}
