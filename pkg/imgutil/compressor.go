package imgutil

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net/http"

	_ "image/gif"
	_ "image/png"
)

// CompressToJPEG は画像データ（PNG, GIF, JPEG, WebP）を JPEG に再エンコードします。
// 透過部分は白で塗りつぶします。
func CompressToJPEG(data []byte, quality int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, ToRGB(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

// CompressIfSmaller は JPEG 化した結果が元より小さい場合だけそれを採用し、
// 採用したデータと MIME タイプを返します。圧縮に失敗した場合は元データを返します。
func CompressIfSmaller(data []byte, quality int) ([]byte, string) {
	compressed, err := CompressToJPEG(data, quality)
	if err != nil || len(compressed) >= len(data) {
		return data, http.DetectContentType(data)
	}
	return compressed, "image/jpeg"
}
