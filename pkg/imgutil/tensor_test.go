package imgutil

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensor_FromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	img.SetRGBA(1, 0, color.RGBA{0, 0, 255, 255})

	got := FromImage(img)

	require.Equal(t, 2, got.Width)
	require.Equal(t, 1, got.Height)
	assert.Equal(t, []float32{1, 0, 0, 0, 0, 1}, got.Data)
}

func TestTensor_ImageRoundTrip(t *testing.T) {
	data := createDummyImageData(t, "png", 4, 3, color.RGBA{200, 100, 50, 255})

	tensor, err := FromBytes(data)
	require.NoError(t, err)
	assert.Len(t, tensor.Data, 4*3*3)

	back := tensor.Image()
	assert.Equal(t, color.RGBA{200, 100, 50, 255}, back.RGBAAt(2, 1))
}

func TestTensor_ImageClipsOutOfRange(t *testing.T) {
	tensor := &Tensor{Width: 1, Height: 1, Data: []float32{-0.5, 2, 0.5}}
	got := tensor.Image().RGBAAt(0, 0)
	assert.Equal(t, uint8(0), got.R)
	assert.Equal(t, uint8(255), got.G)
	assert.Equal(t, uint8(128), got.B)
}

func TestFromBytes_InvalidData(t *testing.T) {
	_, err := FromBytes([]byte("nope"))
	assert.Error(t, err)
}
