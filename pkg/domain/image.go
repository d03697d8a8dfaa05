package domain

// ImageResponse は生成された画像データとそのメタデータです。
type ImageResponse struct {
	Data     []byte
	MimeType string
	// URL はプロバイダが返した取得元です。data URI やインライン応答では空になります。
	URL      string
	UsedSeed int64 // 戻り値は情報欠落を防ぐため int64
}

// Result は 1 回の生成呼び出しの結果です。画像かテキストのどちらか一方が入ります。
type Result struct {
	Image *ImageResponse
	Text  string
}

// HasImage は画像が含まれているかを返します。
func (r *Result) HasImage() bool {
	return r != nil && r.Image != nil && len(r.Image.Data) > 0
}
