package download

import (
	"errors"
	"fmt"
)

var (
	// ErrTransfer 是所有下载失败的公共哨兵错误。
	ErrTransfer = errors.New("transfer failed")
	// ErrUnknownSize 表示上游未给出 Content-Length，无法校验完整性。
	ErrUnknownSize = fmt.Errorf("%w: unknown content length", ErrTransfer)
	// ErrEmptyPayload 表示上游声明长度为 0。
	ErrEmptyPayload = fmt.Errorf("%w: empty payload", ErrTransfer)
	// ErrShortBody 表示实际收到的字节数与声明长度不一致。
	ErrShortBody = fmt.Errorf("%w: body shorter than declared length", ErrTransfer)

	errRangeIgnored = errors.New("range request not honoured")
)

// TransferError 描述一次失败的下载，Status 为 0 表示未拿到 HTTP 响应。
type TransferError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransferError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("download %s: upstream status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

// Unwrap 同时暴露 ErrTransfer 与底层原因，便于 errors.Is 判断两者。
func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}

func transferError(url string, status int, err error) *TransferError {
	var te *TransferError
	if errors.As(err, &te) {
		return te
	}
	return &TransferError{URL: url, Status: status, Err: err}
}

// retryable 判断分段失败是否值得续传：4xx 与被忽略的 Range 属于确定性失败。
func retryable(err error) bool {
	var te *TransferError
	if errors.As(err, &te) && te.Status >= 400 && te.Status < 500 {
		return false
	}
	return !errors.Is(err, errRangeIgnored)
}
