package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("accepts known steps", func(t *testing.T) {
		c := Config{Steps: map[string]bool{
			"trim_silence":  true,
			"add_subtitles": true,
			"create_shorts": false,
		}}
		assert.NoError(t, c.Validate())
	})

	t.Run("rejects unknown step names", func(t *testing.T) {
		c := Config{Steps: map[string]bool{"trim_silnce": true}}
		err := c.Validate()
		require.Error(t, err)
		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr))
		assert.Contains(t, err.Error(), "trim_silnce")
	})

	t.Run("rejects empty pipelines", func(t *testing.T) {
		c := Config{Steps: map[string]bool{"trim_silence": false}}
		assert.Error(t, c.Validate())
	})

	t.Run("rejects negative overrides", func(t *testing.T) {
		c := Config{Steps: map[string]bool{"trim_silence": true}, ShortsMax: -1}
		assert.Error(t, c.Validate())
	})
}

func TestBuild_OrderIsDeclarationOrder(t *testing.T) {
	// Map iteration order must not matter: the builder follows the
	// declared step order.
	c := Config{Steps: map[string]bool{
		"upload_shorts":   true,
		"trim_silence":    true,
		"create_shorts":   true,
		"generate_titles": true,
		"add_subtitles":   true,
	}}

	steps, err := Build(c, Deps{})
	require.NoError(t, err)
	require.Len(t, steps, 5)

	kinds := make([]Kind, 0, len(steps))
	for _, s := range steps {
		kinds = append(kinds, s.Kind())
	}
	assert.Equal(t, []Kind{
		KindTrimSilence,
		KindAddSubtitles,
		KindCreateShorts,
		KindGenerateTitles,
		KindUploadShorts,
	}, kinds)
}

func TestBuild_SkipsDisabledSteps(t *testing.T) {
	c := Config{Steps: map[string]bool{
		"trim_silence":  false,
		"add_subtitles": true,
	}}
	steps, err := Build(c, Deps{})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, KindAddSubtitles, steps[0].Kind())
}

func TestWeights(t *testing.T) {
	t.Run("sum is exactly 100", func(t *testing.T) {
		for n := 1; n <= 10; n++ {
			sum := 0
			for _, w := range Weights(n) {
				sum += w
			}
			assert.Equal(t, 100, sum, "n=%d", n)
		}
	})

	t.Run("remainder goes to the last step", func(t *testing.T) {
		assert.Equal(t, []int{33, 33, 34}, Weights(3))
		assert.Equal(t, []int{50, 50}, Weights(2))
		assert.Equal(t, []int{100}, Weights(1))
	})

	t.Run("no steps means no weights", func(t *testing.T) {
		assert.Nil(t, Weights(0))
	})
}
