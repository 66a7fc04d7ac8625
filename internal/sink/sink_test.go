package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/azmon-sink/internal/auth"
	"github.com/GabrielNunesIT/azmon-sink/internal/config"
	"github.com/GabrielNunesIT/azmon-sink/internal/model"
	"github.com/GabrielNunesIT/azmon-sink/internal/testutil"
)

// mockHTTPClient implements the HTTPDoer interfaces for testing.
type mockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
	calls  atomic.Int64
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.calls.Add(1)
	return m.DoFunc(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func authClientOK() *mockHTTPClient {
	return &mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return response(200, `{"access_token":"tok-1"}`), nil
		},
	}
}

func testSinkConfig() config.SinkConfig {
	return config.SinkConfig{
		Endpoint:        "https://dce.example.ingest.monitor.azure.com",
		RuleID:          "dcr-000",
		Stream:          "Custom-AppLogs",
		APIVersion:      "2023-01-01",
		BatchSize:       3,
		BufferCapacity:  8,
		FlushInterval:   time.Hour,
		ShutdownTimeout: time.Second,
		StartupTimeout:  time.Second,
		Naming:          "default",
		MaxDepth:        8,
		Auth: config.AuthConfig{
			LoginEndpoint: "https://login.microsoftonline.com",
			TenantID:      "tenant-1",
			ClientID:      "client-1",
			ClientSecret:  "secret-1",
			Scope:         "https://monitor.azure.com//.default",
		},
	}
}

func TestNew_BlocksOnFirstToken(t *testing.T) {
	authClient := authClientOK()

	s, err := New(testSinkConfig(), testutil.NewTestLogger(), WithAuthHTTPClient(authClient))
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, int64(1), authClient.calls.Load(), "construction must obtain the first token")
}

func TestNew_FailsWithoutAccessToken(t *testing.T) {
	authClient := &mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return response(200, `{"token_type":"Bearer"}`), nil
		},
	}

	s, err := New(testSinkConfig(), testutil.NewTestLogger(), WithAuthHTTPClient(authClient))
	require.Error(t, err, "construction must not proceed with an empty token")
	assert.Nil(t, s)

	var authErr *auth.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestSink_IdleFlush_NoDeliveryBelowThreshold(t *testing.T) {
	ingestClient := &mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return response(204, ""), nil
		},
	}

	s, err := New(testSinkConfig(), testutil.NewTestLogger(),
		WithAuthHTTPClient(authClientOK()),
		WithIngestHTTPClient(ingestClient))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	s.Emit(model.NewLogRecord("Information", "one"))
	s.Emit(model.NewLogRecord("Information", "two"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), ingestClient.calls.Load(),
		"no delivery attempt until a flush tick or the size threshold")
	assert.Equal(t, 2, s.Pending())
}

func TestSink_SevenRecordsBatchSizeThree(t *testing.T) {
	var payloads atomic.Int64
	sizes := make(chan int, 8)

	ingestClient := &mockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			var envelopes []json.RawMessage
			if err := json.Unmarshal(body, &envelopes); err == nil {
				sizes <- len(envelopes)
			}
			payloads.Add(1)
			return response(204, ""), nil
		},
	}

	s, err := New(testSinkConfig(), testutil.NewTestLogger(),
		WithAuthHTTPClient(authClientOK()),
		WithIngestHTTPClient(ingestClient))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	for i := 0; i < 7; i++ {
		s.Emit(model.NewLogRecord("Information", fmt.Sprintf("msg-%d", i)))
	}

	assert.Eventually(t, func() bool {
		return payloads.Load() == 2
	}, time.Second, 10*time.Millisecond, "two full batches released by the size threshold")

	assert.Equal(t, 3, <-sizes)
	assert.Equal(t, 3, <-sizes)
	assert.Equal(t, 1, s.Pending(), "seventh record waits for the next flush tick")

	// Shutdown forces the final partial batch out.
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 1, <-sizes)
}

func TestSink_EmitNilIsIgnored(t *testing.T) {
	s, err := New(testSinkConfig(), testutil.NewTestLogger(), WithAuthHTTPClient(authClientOK()))
	require.NoError(t, err)

	s.Emit(nil)
	assert.Equal(t, 0, s.Pending())
}
