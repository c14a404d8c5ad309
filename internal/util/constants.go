package util

import "strconv"

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

// 录音上传相关常量
const (
	MimeAudio       = "audio/"
	MimeOctetStream = "application/octet-stream"
)

var (
	AllowedAudioExtensions = []string{".webm", ".wav", ".mp3", ".m4a", ".ogg", ".flac"}
)

// MustParseUint 将字符串转换为无符号整数，解析失败时返回 0
func MustParseUint(s string) uint {
	id, _ := strconv.ParseUint(s, 10, 32)
	return uint(id)
}
