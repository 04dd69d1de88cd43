package service

import "errors"

// 业务校验类错误。handler 依据它们选择 4xx 状态码，
// 与真正的投递失败（502）区分开。
var (
	ErrThreadNotFound   = errors.New("会话不存在")
	ErrThreadForbidden  = errors.New("无权访问该会话")
	ErrMessageNotFound  = errors.New("消息不存在")
	ErrNotUserMessage   = errors.New("只有用户消息可以重试")
	ErrMessageNotFailed = errors.New("该消息不在失败状态")
	ErrEmptyTitle       = errors.New("标题不能为空")
)
