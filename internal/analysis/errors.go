package analysis

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Kind は解析パイプラインの失敗分類です。
type Kind string

const (
	KindNotFound    Kind = "NOT_FOUND"
	KindProcess     Kind = "PROCESS_ERROR"
	KindParse       Kind = "PARSE_ERROR"
	KindSemantic    Kind = "SEMANTIC_ERROR"
	KindPersistence Kind = "PERSISTENCE_ERROR"
	KindConflict    Kind = "ANALYSIS_IN_PROGRESS"
	KindUnavailable Kind = "ANALYSIS_UNAVAILABLE"
)

// ProcessFailure はワーカープロセスの失敗理由です。
type ProcessFailure string

const (
	FailureTimeout        ProcessFailure = "timeout"
	FailureOutputTooLarge ProcessFailure = "output_too_large"
	FailureNonZeroExit    ProcessFailure = "non_zero_exit"
	FailureSpawn          ProcessFailure = "spawn_failure"
	FailureCanceled       ProcessFailure = "canceled"
)

// excerptLimit は診断用に返す出力の最大文字数です。
const excerptLimit = 300

// Error は解析パイプラインが返す構造化エラーです。
// Details には出力の一部だけを格納し、全文は含めません。
type Error struct {
	Kind     Kind
	Failure  ProcessFailure
	ExitCode int
	Message  string
	Details  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Failure != "" {
		b.WriteString("(")
		b.WriteString(string(e.Failure))
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf は err に含まれる *Error の Kind を返します。該当しない場合は空文字です。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func notFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func persistenceError(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

// headExcerpt は先頭から最大 excerptLimit 文字を返します。
func headExcerpt(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "�")
	if utf8.RuneCountInString(s) <= excerptLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:excerptLimit])
}

// tailExcerpt は末尾から最大 excerptLimit 文字を返します。
// stderr はエラー原因が末尾に出ることが多いため末尾を残します。
func tailExcerpt(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "�")
	if utf8.RuneCountInString(s) <= excerptLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-excerptLimit:])
}
