package gateway

import (
	"strings"

	"kb-assistant-go/pkg/llm"
)

// recordingWriter 转发分块并保留完整文本，用于流式回复结束后写入会话历史。
type recordingWriter struct {
	next llm.MessageWriter
	sb   strings.Builder
}

func (w *recordingWriter) WriteMessage(messageType int, data []byte) error {
	w.sb.Write(data)
	if w.next == nil {
		return nil
	}
	return w.next.WriteMessage(messageType, data)
}

func (w *recordingWriter) String() string { return w.sb.String() }
