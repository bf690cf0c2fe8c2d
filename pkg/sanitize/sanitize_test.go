package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "photo.jpg", "photo.jpg"},
		{"spaces", "my photo (1).png", "my_photo__1_.png"},
		{"unicode", "ảnh đẹp.webp", "_nh___p.webp"},
		{"traversal", "../../etc/passwd", ".._.._etc_passwd"},
		{"empty", "   ", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectName(tt.input))
		})
	}
}

func TestValidStoragePath(t *testing.T) {
	assert.True(t, ValidStoragePath("chat/images"))
	assert.True(t, ValidStoragePath("statuses"))
	assert.True(t, ValidStoragePath("voice-notes/2024_q1"))

	assert.False(t, ValidStoragePath(""))
	assert.False(t, ValidStoragePath("/absolute"))
	assert.False(t, ValidStoragePath("chat/../secrets"))
	assert.False(t, ValidStoragePath("trailing/"))
	assert.False(t, ValidStoragePath("dots.in.path"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada", DisplayName("  Ada\x00 ", 10))
	assert.Equal(t, "Lovelace", DisplayName("Lovelace Byron", 8))
	assert.Equal(t, "Grace", DisplayName("Grace Hopper", 6))
}

func TestMessageText(t *testing.T) {
	assert.Equal(t, "hello\nworld\t!", MessageText("hel\x07lo\nworld\t!"))
}
