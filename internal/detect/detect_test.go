package detect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	keywords := []string{
		"remote monitoring",
		"noise monitoring",
		"vibration monitoring",
		"dust monitoring",
		"subsidence monitoring",
	}

	t.Run("empty text", func(t *testing.T) {
		require.Empty(t, Detect("", keywords))
	})

	t.Run("no keywords", func(t *testing.T) {
		require.Empty(t, Detect("noise monitoring survey", nil))
	})

	t.Run("case insensitive", func(t *testing.T) {
		got := Detect("Noise Monitoring", []string{"noise monitoring"})
		require.Equal(t, []string{"noise monitoring"}, got)
	})

	t.Run("preserves keyword order", func(t *testing.T) {
		text := "proposal includes dust monitoring and noise monitoring equipment"
		got := Detect(text, keywords)
		require.Equal(t, []string{"noise monitoring", "dust monitoring"}, got)
	})

	t.Run("no duplicates for repeated mentions", func(t *testing.T) {
		text := "noise monitoring, more NOISE MONITORING, and noise monitoring again"
		got := Detect(text, keywords)
		require.Equal(t, []string{"noise monitoring"}, got)
	})

	t.Run("substring not word boundary", func(t *testing.T) {
		got := Detect("structural monitoring survey", []string{"monitoring"})
		require.Equal(t, []string{"monitoring"}, got)
	})

	t.Run("result is subsequence of keyword set", func(t *testing.T) {
		text := "remote monitoring and subsidence monitoring"
		got := Detect(text, keywords)
		require.Subset(t, keywords, got)
		require.Equal(t, []string{"remote monitoring", "subsidence monitoring"}, got)
	})
}
