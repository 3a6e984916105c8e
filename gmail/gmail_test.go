package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const rawMessage = "From: <alice@example.com>\r\nTo: <bob@example.com>\r\nSubject: Hi\r\n\r\nHello\r\n"

func newTestSource(t *testing.T) *Source {
	t.Helper()

	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("/gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"labels": []map[string]string{
			{"id": "Label_7", "name": "Projects", "type": "user"},
			{"id": "SENT", "name": "SENT", "type": "system"},
			{"id": "INBOX", "name": "INBOX", "type": "system"},
		}})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("labelIds") != "INBOX" {
			reply(w, map[string]any{})
			return
		}
		if r.URL.Query().Get("pageToken") == "" {
			reply(w, map[string]any{"messages": []map[string]string{{"id": "m3"}, {"id": "m2"}}, "nextPageToken": "p2"})
			return
		}
		reply(w, map[string]any{"messages": []map[string]string{{"id": "m1"}}})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "raw", r.URL.Query().Get("format"))
		reply(w, map[string]any{
			"id":           "m1",
			"raw":          base64.RawURLEncoding.EncodeToString([]byte(rawMessage)),
			"internalDate": "1641204900000",
			"sizeEstimate": 321,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	service, err := gmailapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewWithService(service, "", nil)
}

func TestSource_Folders(t *testing.T) {
	src := newTestSource(t)
	folders, err := src.Folders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "SENT", "Projects"}, folders)
}

func TestSource_ListOldestFirst(t *testing.T) {
	src := newTestSource(t)
	ids, err := src.List(context.Background(), "INBOX")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

	ids, err = src.List(context.Background(), "Label_7")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = src.List(context.Background(), "Nope")
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestSource_Fetch(t *testing.T) {
	src := newTestSource(t)
	msg, err := src.Fetch(context.Background(), "INBOX", "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "INBOX", msg.Folder)
	assert.Equal(t, rawMessage, string(msg.Raw))
	assert.Equal(t, int64(321), msg.Size)
	assert.Equal(t, time.Date(2022, 1, 3, 10, 15, 0, 0, time.UTC), msg.ReceivedAt)

	_, err = src.Fetch(context.Background(), "INBOX", "missing")
	assert.Error(t, err)
}

func TestDecodeRaw(t *testing.T) {
	payload := []byte("subject?>>")
	padded := base64.URLEncoding.EncodeToString(payload)
	unpadded := base64.RawURLEncoding.EncodeToString(payload)

	for _, enc := range []string{padded, unpadded} {
		got, err := decodeRaw(enc)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Options{ClientID: "id"}, nil)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
