package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/cloud-image-nodes/pkg/domain"
)

func TestGeminiImage(t *testing.T) {
	ctx := context.Background()

	t.Run("参照画像なし", func(t *testing.T) {
		r, gen := newTestRunner(t)
		p := DefaultGeminiImageParams()
		p.Prompt = "a lighthouse"
		p.APIKey = "gemini.txt"

		out, err := r.GeminiImage(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, 8, out.Width)

		req := gen.last(t).(domain.GeminiRequest)
		assert.Equal(t, "a lighthouse", req.Prompt)
		assert.Equal(t, "1:1", req.AspectRatio)
		assert.Empty(t, req.ReferenceImages)
	})

	t.Run("参照画像はPNGで渡す", func(t *testing.T) {
		r, gen := newTestRunner(t)
		p := DefaultGeminiImageParams()
		p.Prompt = "same style"
		p.Image = imageInput(t, 6, 3)
		p.APIKey = "gemini.txt"

		_, err := r.GeminiImage(ctx, p)
		require.NoError(t, err)

		req := gen.last(t).(domain.GeminiRequest)
		require.Len(t, req.ReferenceImages, 1)
		w, h := decodedSize(t, req.ReferenceImages[0])
		assert.Equal(t, 6, w)
		assert.Equal(t, 3, h)
	})
}
