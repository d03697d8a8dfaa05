package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeedUtils(t *testing.T) {
	t.Run("DereferenceSeed: nil の場合は 0 を返すのだ", func(t *testing.T) {
		assert.Equal(t, int64(0), DereferenceSeed(nil))
	})

	t.Run("DereferenceSeed: 値がある場合はその値を返すのだ", func(t *testing.T) {
		var val int64 = 999
		assert.Equal(t, int64(999), DereferenceSeed(&val))
	})
}

func TestPtr(t *testing.T) {
	p := Ptr(0.75)
	assert.Equal(t, 0.75, *p)

	q := Ptr(int64(1337))
	*q = 1
	assert.Equal(t, int64(1), DereferenceSeed(q), "Ptr は独立したコピーを返すのだ")
}

