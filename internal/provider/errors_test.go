package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"canceled", context.Canceled, KindCancelled},
		{"wrapped canceled", fmt.Errorf("call: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"no provider", fmt.Errorf("%w for capability text", ErrNoProvider), KindNoProvider},
		{"ollama 429", api.StatusError{StatusCode: http.StatusTooManyRequests}, KindRateLimited},
		{"ollama 503", api.StatusError{StatusCode: http.StatusServiceUnavailable}, KindServer},
		{"ollama 400", api.StatusError{StatusCode: http.StatusBadRequest}, KindInvalidRequest},
		{"ollama 401", api.StatusError{StatusCode: http.StatusUnauthorized}, KindAuth},
		{"ollama 504", api.StatusError{StatusCode: http.StatusGatewayTimeout}, KindTimeout},
		{"already classified", &Error{Kind: KindContract}, KindContract},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Kind)
		})
	}
}

func TestKindTransient(t *testing.T) {
	for _, k := range []Kind{KindTimeout, KindRateLimited, KindServer} {
		assert.True(t, k.Transient(), k)
	}
	for _, k := range []Kind{KindInvalidRequest, KindAuth, KindNoProvider, KindCancelled, KindContract, KindUnknown} {
		assert.False(t, k.Transient(), k)
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Kind: KindRateLimited, Provider: "openai-main", StatusCode: 429, Err: errors.New("slow down")}
	assert.Equal(t, "openai-main: rate_limited (status 429): slow down", e.Error())
	assert.ErrorContains(t, fmt.Errorf("step body: %w", e), "slow down")
}

func TestParamsCanonical(t *testing.T) {
	a := Params{"b": "2", "a": "1"}
	b := Params{"a": "1", "b": "2"}
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, "a=1\nb=2\n", a.Canonical())

	m := a.Merge(Params{"b": "3", "c": "4"})
	assert.Equal(t, Params{"a": "1", "b": "3", "c": "4"}, m)
	assert.Equal(t, "2", a["b"], "merge does not mutate the receiver")
}

func TestNewRejectsUnsupportedCapability(t *testing.T) {
	_, err := New(Settings{ID: "x", Kind: KindOllama, Capability: Image, Model: "llama3"})
	assert.Error(t, err)

	_, err = New(Settings{ID: "x", Kind: "mystery", Capability: Text})
	assert.Error(t, err)

	p, err := New(Settings{ID: "off", Kind: KindOffline, Capability: Image})
	assert.NoError(t, err)
	assert.Equal(t, Image, p.Capability())
}

func TestOfflineStructure(t *testing.T) {
	o := NewOffline("off", Text)
	resp, err := o.Call(context.Background(), Request{Prompt: "x", Params: Params{"step": "structure", "keyword": "AI副業"}})
	assert.NoError(t, err)
	assert.Contains(t, resp.Text, "h2: AI副業とは")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Call(ctx, Request{})
	assert.Equal(t, KindCancelled, KindOf(err))
}
