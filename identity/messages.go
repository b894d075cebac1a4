package identity

import (
	"errors"

	"golang.org/x/text/language"
)

var supported = []language.Tag{language.Japanese, language.English}

var matcher = language.NewMatcher(supported)

var messages = map[language.Tag]map[error]string{
	language.Japanese: {
		ErrInvalidCredentials: "メールアドレスまたはパスワードが正しくありません",
		ErrUserExists:         "このメールアドレスは既に登録されています",
		ErrWeakPassword:       "パスワードは6文字以上で入力してください",
		ErrPasswordTooLong:    "パスワードは72文字以内で入力してください",
		ErrInvalidEmail:       "メールアドレスの形式が正しくありません",
		ErrTokenRevoked:       "セッションの有効期限が切れました。再度ログインしてください",
	},
	language.English: {
		ErrInvalidCredentials: "Invalid email or password",
		ErrUserExists:         "This email address is already registered",
		ErrWeakPassword:       "Password must be at least 6 characters",
		ErrPasswordTooLong:    "Password must be at most 72 characters",
		ErrInvalidEmail:       "Invalid email address",
		ErrTokenRevoked:       "Your session has ended. Please sign in again",
	},
}

var fallback = map[language.Tag]string{
	language.Japanese: "予期しないエラーが発生しました",
	language.English:  "An unexpected error occurred",
}

// Message renders err for a user, negotiating the language from an
// Accept-Language header value. Japanese is the default.
func Message(err error, acceptLanguage string) string {
	tag := negotiate(acceptLanguage)
	for sentinel, text := range messages[tag] {
		if errors.Is(err, sentinel) {
			return text
		}
	}
	return fallback[tag]
}

func negotiate(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.Japanese
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.Japanese
	}
	return supported[idx]
}
