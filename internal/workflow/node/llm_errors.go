package node

import "strings"

// IsGenerateAudioUnsupportedError 判断视频提供商是否拒绝了 generate_audio 参数
func IsGenerateAudioUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "generate_audio"):
		return true
	case strings.Contains(msg, "audio") && strings.Contains(msg, "not supported"):
		return true
	case strings.Contains(msg, "audio") && strings.Contains(msg, "unsupported"):
		return true
	case strings.Contains(msg, "unknown parameter") && strings.Contains(msg, "audio"):
		return true
	default:
		return false
	}
}
