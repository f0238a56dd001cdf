package engine

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/quotewing/quotewing/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFirstMatchWins(t *testing.T) {
	f := newFakeDriver()
	f.missing["#first"] = true
	loc := models.MustLocator("field",
		models.CSS("#first"),
		models.XPath("//input[@id='second']"),
		models.CSS("#third"),
	)

	el, q, err := Resolve(context.Background(), f, loc, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyXPath, q.Strategy)
	assert.Equal(t, "//input[@id='second']", el.(*fakeElement).query.Selector)

	// 匹配后不再评估后面的候选
	require.Len(t, f.finds, 2)
	assert.Equal(t, "#first", f.finds[0].Selector)
	assert.Zero(t, f.findCount("#third"))
}

func TestResolveNotFound(t *testing.T) {
	f := newFakeDriver()
	f.missing["#a"] = true
	f.missing["#b"] = true
	loc := models.MustLocator("field", models.CSS("#a"), models.CSS("#b"))

	el, _, err := Resolve(context.Background(), f, loc, 0)
	assert.Nil(t, el)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocatorNotFound))
	assert.False(t, errors.Is(err, ErrInteractionFailed))
	assert.Equal(t, KindLocatorNotFound, Classify(err))
	assert.Len(t, f.finds, 2)
}

func TestResolveZeroLocator(t *testing.T) {
	_, _, err := Resolve(context.Background(), newFakeDriver(), models.Locator{}, 0)
	assert.True(t, errors.Is(err, ErrLocatorNotFound))
}

func TestResolveCancelled(t *testing.T) {
	f := newFakeDriver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Resolve(ctx, f, models.MustLocator("field", models.CSS("#a")), 0)
	assert.Equal(t, KindCancelled, Classify(err))
	assert.Empty(t, f.finds)
}
