package imgutil

import (
	"image"
	"image/color"
)

// Tensor はホストに渡すバッチサイズ 1 の画像テンソルです。
// 画素は行優先の HWC (RGB) で、各値は 0〜1 に正規化されています。
type Tensor struct {
	Width  int
	Height int
	Data   []float32
}

// FromImage は画像を RGB に変換し、255 で割ってテンソルにします。
func FromImage(img image.Image) *Tensor {
	rgb := ToRGB(img)
	w, h := rgb.Rect.Dx(), rgb.Rect.Dy()
	t := &Tensor{Width: w, Height: h, Data: make([]float32, 0, w*h*3)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := rgb.RGBAAt(x, y)
			t.Data = append(t.Data, float32(c.R)/255, float32(c.G)/255, float32(c.B)/255)
		}
	}
	return t
}

// FromBytes はエンコード済み画像をデコードしてテンソルにします。
func FromBytes(data []byte) (*Tensor, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// Image はテンソルを 255 倍して 8bit の画像に戻します。範囲外の値は切り詰めます。
func (t *Tensor) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			i := (y*t.Width + x) * 3
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(t.Data[i]),
				G: toByte(t.Data[i+1]),
				B: toByte(t.Data[i+2]),
				A: 255,
			})
		}
	}
	return img
}

// PNG はテンソルを PNG にエンコードします。
func (t *Tensor) PNG() ([]byte, error) {
	return EncodePNG(t.Image())
}

func toByte(v float32) uint8 {
	v *= 255
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
