package utils

// DereferenceSeed は、int64のポインタを安全にデリファレンスします。
// ポインタがnilの場合は0を返します。
func DereferenceSeed(seed *int64) int64 {
	if seed == nil {
		return 0
	}
	return *seed
}

// Ptr は値のポインタを返します。任意項目を持つリクエストの組み立て用です。
func Ptr[T any](v T) *T {
	return &v
}

