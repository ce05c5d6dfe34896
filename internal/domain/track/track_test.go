package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrack_IsAvailableInMarket(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		markets    []string
		isPlayable *bool
		market     string
		expected   bool
	}{
		{
			name:     "available in market using markets list",
			markets:  []string{"JP", "US", "UK"},
			market:   "US",
			expected: true,
		},
		{
			name:     "not available in market using markets list",
			markets:  []string{"JP", "UK"},
			market:   "US",
			expected: false,
		},
		{
			name:       "isPlayable true takes precedence",
			markets:    []string{"JP"},
			isPlayable: &trueVal,
			market:     "US",
			expected:   true,
		},
		{
			name:       "isPlayable false takes precedence",
			markets:    []string{"US", "JP"},
			isPlayable: &falseVal,
			market:     "US",
			expected:   false,
		},
		{
			name:     "empty markets list",
			markets:  []string{},
			market:   "US",
			expected: false,
		},
		{
			name:     "case sensitivity",
			markets:  []string{"us"},
			market:   "US",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track := &Track{
				ID:         "test-id",
				Markets:    tt.markets,
				IsPlayable: tt.isPlayable,
			}
			assert.Equal(t, tt.expected, track.IsAvailableInMarket(tt.market))
		})
	}
}

func TestTrack_Names(t *testing.T) {
	tests := []struct {
		name        string
		track       Track
		display     string
		searchQuery string
	}{
		{
			name:        "single artist",
			track:       Track{Name: "Blue Monday", Artists: []string{"New Order"}},
			display:     "New Order - Blue Monday",
			searchQuery: "New Order Blue Monday",
		},
		{
			name:        "several artists search with the first only",
			track:       Track{Name: "Under Pressure", Artists: []string{"Queen", "David Bowie"}},
			display:     "Queen, David Bowie - Under Pressure",
			searchQuery: "Queen Under Pressure",
		},
		{
			name:        "no artists",
			track:       Track{Name: "Untitled"},
			display:     "Untitled",
			searchQuery: "Untitled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.display, tt.track.DisplayName())
			assert.Equal(t, tt.searchQuery, tt.track.SearchQuery())
		})
	}
}
