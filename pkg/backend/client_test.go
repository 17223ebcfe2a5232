package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendChatRaw(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/send", r.URL.Path)
		var body struct {
			Payload string `json:"payload"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body.Payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.SendChatRaw(context.Background(), []byte(`{"type":"JoinChat"}`)))
	require.Equal(t, `{"type":"JoinChat"}`, got)
}

func TestCheckCallAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calls/availability/42", r.URL.Path)
		_, _ = w.Write([]byte(`{"available":false}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	avail, err := c.CheckCallAvailability(context.Background(), 42)
	require.NoError(t, err)
	require.False(t, avail)
}

func TestFileRoundTrip(t *testing.T) {
	content := []byte("laudo final")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/upload":
			var body struct {
				Name    string `json:"name"`
				Content string `json:"content"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "laudo.pdf", body.Name)
			decoded, err := base64.StdEncoding.DecodeString(body.Content)
			require.NoError(t, err)
			require.Equal(t, content, decoded)
			_, _ = w.Write([]byte(`{"id":"f-1"}`))
		case "/files/f-1":
			_, _ = w.Write([]byte(`{"content":"` + base64.StdEncoding.EncodeToString(content) + `"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	id, err := c.UploadFile(context.Background(), "laudo.pdf", content)
	require.NoError(t, err)
	require.Equal(t, "f-1", id)

	data, err := c.DownloadFile(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, content, data)
}

func TestErrorsAreDescriptive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance window"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	err = c.SendChatRaw(context.Background(), []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
	require.Contains(t, err.Error(), "maintenance window")
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("   ")
	require.Error(t, err)
}
