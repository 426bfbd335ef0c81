package consts

const (
	IMUserConnSetKey  = "im:user:conns:"   // 用户活跃连接集合
	TokenBlacklistKey = "token:blacklist:" // 已注销 Token 签名
)
