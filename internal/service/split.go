package service

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxReplyLength 是单条消息的最大字符数。
	DefaultMaxReplyLength = 4000
	// DefaultImageCaption 用于没有说明文字的图片。
	DefaultImageCaption = "Analyze this image"
)

// SplitMessage 按段落把长文本切成不超过 max 个字符的若干段。
// 单个段落超长时按字符硬切。多于一段时每段加 "Part i/n" 前缀，前缀不计入 max。
func SplitMessage(text string, max int) []string {
	if max <= 0 {
		max = DefaultMaxReplyLength
	}
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		n := utf8.RuneCountInString(para)
		if curLen > 0 && curLen+2+n > max {
			flush()
		}
		if n > max {
			flush()
			rs := []rune(para)
			for len(rs) > max {
				parts = append(parts, string(rs[:max]))
				rs = rs[max:]
			}
			para = string(rs)
			n = len(rs)
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(para)
		curLen += n
	}
	flush()

	if len(parts) <= 1 {
		return parts
	}
	for i := range parts {
		parts[i] = fmt.Sprintf("Part %d/%d:\n\n%s", i+1, len(parts), parts[i])
	}
	return parts
}
