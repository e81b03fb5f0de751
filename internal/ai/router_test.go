package ai_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DukeRupert/renova/internal/ai"
	"github.com/DukeRupert/renova/internal/ai/fallback"
	"github.com/DukeRupert/renova/internal/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_DispatchesByLongestPrefix(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	claude, gemini, fallback := mock.New(logger), mock.New(logger), mock.New(logger)

	r := ai.NewRouter(
		ai.Route{Prefix: "claude-", Generator: claude},
		ai.Route{Prefix: "gemini-", Generator: gemini},
		ai.Route{Prefix: "", Generator: fallback},
	)

	ctx := context.Background()
	_, err := r.GenerateEstimate(ctx, "claude-sonnet-4-5", ai.EstimateParams{})
	require.NoError(t, err)
	_, err = r.GenerateImages(ctx, "gemini-2.5-flash-image", ai.ImageParams{Count: 1})
	require.NoError(t, err)
	require.NoError(t, r.Probe(ctx, "local-model"))

	assert.Equal(t, []string{"claude-sonnet-4-5"}, claude.Attempted())
	assert.Equal(t, []string{"gemini-2.5-flash-image"}, gemini.Attempted())
	assert.Equal(t, []string{"local-model"}, fallback.Attempted())
}

func TestRouter_UnknownModelIsUnavailable(t *testing.T) {
	r := ai.NewRouter(ai.Route{Prefix: "claude-", Generator: mock.New(slog.New(slog.NewTextHandler(io.Discard, nil)))})

	err := r.Probe(context.Background(), "gpt-4o")
	assert.True(t, errors.Is(err, ai.EAIUnavailable))
	assert.True(t, ai.IsRetryable(err))
}

func TestRouter_Owner(t *testing.T) {
	g := mock.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := ai.NewRouter(
		ai.Route{Prefix: "claude-", Generator: g},
		ai.Route{Prefix: "gemini-", Generator: g},
	)

	assert.Equal(t, r.Owner("claude-sonnet-4-5"), r.Owner("claude-haiku-4-5"))
	assert.NotEqual(t, r.Owner("claude-sonnet-4-5"), r.Owner("gemini-2.5-pro"))
	assert.NotEqual(t, r.Owner("gpt-4o"), r.Owner("o3"))
}

func TestRouter_RejectedKeyFallsBackToOtherProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	claude, gemini := mock.New(logger), mock.New(logger)
	claude.FailModel("claude-sonnet-4-5", ai.EAIUnauthorized)

	r := ai.NewRouter(
		ai.Route{Prefix: "claude-", Generator: claude},
		ai.Route{Prefix: "gemini-", Generator: gemini},
	)
	selector := fallback.NewSelector(fallback.WithLogger(logger), fallback.WithOwner(r.Owner))

	sel, err := selector.Select(context.Background(),
		fallback.Candidates{"claude-sonnet-4-5", "claude-haiku-4-5", "gemini-2.5-pro"}, r.Probe)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", sel.Model)
	assert.Equal(t, []string{"claude-sonnet-4-5"}, claude.Attempted())
	assert.Equal(t, []string{"gemini-2.5-pro"}, gemini.Attempted())
	require.Len(t, sel.Failures, 1)
	assert.Equal(t, fallback.FailureUnauthorized, sel.Failures[0].Kind)
}
