package minio

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// PresignMediaURL 把消息携带的媒体引用换成限时下载链接
// 媒体的上传与转码由外部媒体服务负责，本服务只做引用到 URL 的解析
func PresignMediaURL(ctx context.Context, mediaRef string, expiry time.Duration) (string, error) {
	if Client == nil {
		return "", fmt.Errorf("minio client is not initialized")
	}
	if mediaRef == "" {
		return "", nil
	}

	presigned, err := Client.PresignedGetObject(ctx, MainBucket, mediaRef, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign media url: %w", err)
	}
	return presigned.String(), nil
}
