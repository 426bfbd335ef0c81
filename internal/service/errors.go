package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
	RetryLater          = 503
)

var (
	ErrParamInvalid          = errors.New("参数错误")
	ErrTokenInvalid          = errors.New("凭证无效或已过期")
	ErrTargetUserInvalid     = errors.New("目标用户无效")
	ErrConversationNotFound  = errors.New("会话不存在")
	ErrNotConversationMember = errors.New("不是该会话的成员")
	ErrMessageNotFound       = errors.New("消息不存在")
	ErrMessageDeleted        = errors.New("消息已被删除")
	ErrNotMessageSender      = errors.New("只有发送者可以执行此操作")
	ErrCorrectOwnMessage     = errors.New("不能更正自己发送的消息")
	ErrEditWindowExpired     = errors.New("已超过可编辑时间窗口")
	ErrStoreTimeout          = errors.New("存储超时，请稍后重试")
	UnauthorizedError        = errors.New("权限不足")
	UnExpectedError          = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:          BadRequest,
	ErrTokenInvalid:          Unauthorized,
	ErrTargetUserInvalid:     BadRequest,
	ErrConversationNotFound:  NotFound,
	ErrNotConversationMember: Forbidden,
	ErrMessageNotFound:       NotFound,
	ErrMessageDeleted:        BadRequest,
	ErrNotMessageSender:      Forbidden,
	ErrCorrectOwnMessage:     Forbidden,
	ErrEditWindowExpired:     BadRequest,
	ErrStoreTimeout:          RetryLater,
	UnauthorizedError:        Unauthorized,
	UnExpectedError:          InternalServerError,
}
