package chrome

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/page"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cohortprobe/internal/common"
	"github.com/ternarybob/cohortprobe/internal/interfaces"
)

func TestNewConfig_FromAppConfig(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Browser.ExecPath = "/usr/bin/chromium"
	cfg.Browser.NavigationTimeout = "45s"

	c := NewConfig(cfg)

	assert.True(t, c.Headless)
	assert.True(t, c.NoSandbox)
	assert.Equal(t, "/usr/bin/chromium", c.ExecPath)
	assert.Equal(t, 45*time.Second, c.NavigationTimeout)
}

func TestNew_DefaultsNavigationTimeout(t *testing.T) {
	d := New(Config{}, arbor.NewLogger())
	assert.Equal(t, DefaultNavigationTimeout, d.config.NavigationTimeout)
	assert.Equal(t, "browser", d.Name())
}

func TestCallExpression_EncodesArguments(t *testing.T) {
	expr, err := callExpression("f", `#cohort`, `a "quoted" фс`)
	require.NoError(t, err)
	assert.Equal(t, `f("#cohort", "a \"quoted\" фс")`, expr)
}

func TestDriver_NotStarted(t *testing.T) {
	d := New(Config{}, arbor.NewLogger())

	err := d.SetField(context.Background(), "#cohort", "1")
	assert.ErrorIs(t, err, ErrNotLoaded)

	_, err = d.ReadField(context.Background(), "#result")
	assert.ErrorIs(t, err, ErrNotLoaded)

	assert.NoError(t, d.Close())
	assert.NoError(t, d.Close())
}

func TestDriver_LoadRequiresURL(t *testing.T) {
	d := New(Config{}, arbor.NewLogger())
	err := d.Load(context.Background(), interfaces.PageSource{Markup: "<html></html>"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "served page URL")
}

func TestDriver_NetworkIdleIgnoresOtherLoaders(t *testing.T) {
	d := New(Config{}, arbor.NewLogger())

	// Replayed for the blank start page when lifecycle events are enabled
	d.onTargetEvent(&page.EventLifecycleEvent{FrameID: "main", LoaderID: "blank", Name: "networkIdle"})
	d.onTargetEvent(&page.EventLifecycleEvent{FrameID: "main", LoaderID: "lookup", Name: "load"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.waitNetworkIdle(ctx, "lookup")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- d.waitNetworkIdle(context.Background(), "lookup") }()

	time.Sleep(20 * time.Millisecond)
	d.onTargetEvent(&page.EventLifecycleEvent{FrameID: "main", LoaderID: "lookup", Name: "networkIdle"})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("networkIdle for the navigation was not observed")
	}
}

func TestDriver_NetworkIdleSeenBeforeWait(t *testing.T) {
	d := New(Config{}, arbor.NewLogger())
	d.onTargetEvent(&page.EventLifecycleEvent{LoaderID: "lookup", Name: "networkIdle"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, d.waitNetworkIdle(ctx, "lookup"))
}
