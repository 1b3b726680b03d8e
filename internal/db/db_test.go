package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect("mysql", "whatever")
	assert.Error(t, err)
}

func TestOpenMemory_Isolated(t *testing.T) {
	a, err := OpenMemory()
	require.NoError(t, err)
	b, err := OpenMemory()
	require.NoError(t, err)

	require.NoError(t, a.Exec(`INSERT INTO channels (key, title, members) VALUES ('x', 'x', '[]')`).Error)

	var n int64
	require.NoError(t, b.Table("channels").Count(&n).Error)
	assert.Zero(t, n)
}

func TestIsMemoryDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{":memory:", true},
		{"file:abc?mode=memory", true},
		{"storage/data.sqlite", false},
	}
	for _, tt := range tests {
		if got := isMemoryDSN(tt.dsn); got != tt.want {
			t.Errorf("isMemoryDSN(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}
