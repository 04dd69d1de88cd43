package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"lawmate-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) Client {
	return NewClient(config.RelayConfig{
		URL:            url,
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		TimeoutSeconds: 5,
	})
}

func TestChatCompletionSuccess(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Promissory estoppel is..."}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	content, err := c.ChatCompletion(context.Background(), "session-token", []Message{
		{Role: "system", Content: "你是法律学习助手"},
		{Role: "user", Content: "What is promissory estoppel?"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Promissory estoppel is...", content)
	assert.Equal(t, "Bearer session-token", gotAuth)
	assert.Equal(t, "openai", gotReq.Provider)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
}

func TestChatCompletionErrorBodyMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ChatCompletion(context.Background(), "t", []Message{{Role: "user", Content: "hi"}})

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, http.StatusInternalServerError, relayErr.Status)
	assert.Equal(t, "rate limited", relayErr.Message)
	assert.Equal(t, "rate limited", relayErr.Error())
}

func TestChatCompletionErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ChatCompletion(context.Background(), "t", []Message{{Role: "user", Content: "hi"}})

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, http.StatusBadGateway, relayErr.Status)
	assert.NotEmpty(t, relayErr.Error())
}

func TestChatCompletionMissingContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ChatCompletion(context.Background(), "t", []Message{{Role: "user", Content: "hi"}})

	require.Error(t, err)
	var relayErr *Error
	assert.False(t, errors.As(err, &relayErr), "2xx 缺字段属于格式错误，不是 relay.Error")
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 中继对 GET 返回 405 也算可达
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	c := newTestClient(srv.URL)
	assert.NoError(t, c.Ping(context.Background()))

	srv.Close()
	assert.Error(t, c.Ping(context.Background()))
}
