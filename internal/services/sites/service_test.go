package sites

import (
	"context"
	"errors"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls  int
	failAt int // 1-based call that fails, 0 = never
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, actions ...chromedp.Action) error {
	f.calls++
	if f.failAt == f.calls {
		return f.err
	}
	return nil
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	t.Run("Should register the three sites", func(t *testing.T) {
		assert.Equal(t, []string{BSESecurities, ChittorgarhMainboard, ChittorgarhSME}, r.Names())
	})

	t.Run("Should fail for unknown sites", func(t *testing.T) {
		_, err := r.Get("nse")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown site "nse"`)
	})

	t.Run("Should replace a driver with the same name", func(t *testing.T) {
		r := DefaultRegistry()
		custom := &scripted{name: BSESecurities}
		r.Register(custom)
		d, err := r.Get(BSESecurities)
		require.NoError(t, err)
		assert.Same(t, custom, d)
	})
}

func TestDrivers(t *testing.T) {
	t.Run("Should submit before downloading on BSE", func(t *testing.T) {
		d := NewBSESecurities().(*scripted)
		names := d.stepNames()
		assert.Equal(t, "navigate", names[0])
		assert.Equal(t, "download", names[len(names)-1])
		assert.Contains(t, names, "select segment")
		assert.Less(t, indexOf(names, "submit"), indexOf(names, "download"))
	})

	t.Run("Should clear overlays before exporting on Chittorgarh", func(t *testing.T) {
		for _, d := range []Driver{NewChittorgarhMainboard(), NewChittorgarhSME()} {
			names := d.(*scripted).stepNames()
			assert.Less(t, indexOf(names, "remove overlays"), indexOf(names, "export"), d.Name())
			assert.Equal(t, "export", names[len(names)-1], d.Name())
		}
	})

	t.Run("Should run every step", func(t *testing.T) {
		d := NewChittorgarhSME().(*scripted)
		r := &fakeRunner{}
		require.NoError(t, d.run(context.Background(), r))
		assert.Equal(t, len(d.steps), r.calls)
	})

	t.Run("Should stop at the failing step", func(t *testing.T) {
		d := NewBSESecurities().(*scripted)
		cause := errors.New("#btnSubmit not found")
		r := &fakeRunner{failAt: 4, err: cause}

		err := d.run(context.Background(), r)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSiteInteraction)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 4, r.calls)

		var interaction *InteractionError
		require.ErrorAs(t, err, &interaction)
		assert.Equal(t, BSESecurities, interaction.Site)
		assert.Equal(t, "submit", interaction.Step)
	})
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
