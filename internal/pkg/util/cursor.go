package util

import (
	"encoding/base64"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ErrCursorInvalid 游标无法解码
var ErrCursorInvalid = errors.New("invalid pagination cursor")

type cursorPayload struct {
	Seq uint64 `json:"seq"`
}

// EncodeCursor 将分页锚点序号编码为对外不透明的 Base64 字符串
func EncodeCursor(seq uint64) string {
	if seq == 0 {
		return ""
	}
	b, _ := json.Marshal(cursorPayload{Seq: seq})
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeCursor 将前端传来的 Base64 字符串解码回锚点序号
// 空游标表示拉取最新一页
func DecodeCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	b, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrCursorInvalid
	}
	var p cursorPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return 0, ErrCursorInvalid
	}
	if p.Seq == 0 {
		return 0, ErrCursorInvalid
	}
	return p.Seq, nil
}
