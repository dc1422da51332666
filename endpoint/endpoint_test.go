package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAPIBase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://localhost:8080/api", "ws://localhost:8080/ws"},
		{"https://chat.example.com/api", "wss://chat.example.com/ws"},
		{"https://chat.example.com/api/", "wss://chat.example.com/ws"},
		{"https://chat.example.com/api/v1", "wss://chat.example.com/ws"},
		{"https://chat.example.com/backend/api", "wss://chat.example.com/backend/ws"},
		{"https://chat.example.com", "wss://chat.example.com/ws"},
		{"https://chat.example.com/apiary", "wss://chat.example.com/apiary/ws"},
		{"ws://localhost:8080/api", "ws://localhost:8080/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := FromAPIBase(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestFromAPIBase_KeepsQuery(t *testing.T) {
	got, err := FromAPIBase("https://chat.example.com/api?region=eu")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws?region=eu", got.String())
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize("ftp://localhost/socket")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")

	_, err = Normalize("invalid-url")
	assert.Error(t, err)

	_, err = Normalize("http://")
	assert.Error(t, err)
}

func TestNormalize_SchemeConversion(t *testing.T) {
	tests := map[string]string{
		"http://localhost:4000/socket":  "ws://localhost:4000/socket",
		"https://localhost:4000/socket": "wss://localhost:4000/socket",
		"ws://localhost:4000/socket":    "ws://localhost:4000/socket",
		"wss://localhost:4000/socket":   "wss://localhost:4000/socket",
	}

	for input, expected := range tests {
		got, err := Normalize(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, got.String())
	}
}
