package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys shown to users in error bodies.
const (
	MsgUnauthorized   = "error.unauthorized"
	MsgUpstream       = "error.upstream"
	MsgInvalidRequest = "error.invalid_request"
	MsgInvalidFilter  = "error.invalid_filter"
	MsgRateLimited    = "error.rate_limited"
	MsgInternal       = "error.internal"
	MsgMethod         = "error.method_not_allowed"
	MsgNotFound       = "error.not_found"
)

func init() {
	en := language.English
	message.SetString(en, MsgUnauthorized, "Your session has ended. Please sign in again.")
	message.SetString(en, MsgUpstream, "The banking service is unavailable right now. Please try again.")
	message.SetString(en, MsgInvalidRequest, "The request could not be understood.")
	message.SetString(en, MsgInvalidFilter, "The filter is not valid.")
	message.SetString(en, MsgRateLimited, "Too many sign-in attempts. Please wait a moment.")
	message.SetString(en, MsgInternal, "Something went wrong. Please try again.")
	message.SetString(en, MsgMethod, "Method not allowed.")
	message.SetString(en, MsgNotFound, "Not found.")

	fa := language.Persian
	message.SetString(fa, MsgUnauthorized, "نشست شما به پایان رسیده است. لطفا دوباره وارد شوید.")
	message.SetString(fa, MsgUpstream, "سرویس بانکی در حال حاضر در دسترس نیست. لطفا دوباره تلاش کنید.")
	message.SetString(fa, MsgInvalidRequest, "درخواست قابل پردازش نیست.")
	message.SetString(fa, MsgInvalidFilter, "فیلتر معتبر نیست.")
	message.SetString(fa, MsgRateLimited, "تعداد تلاش‌های ورود زیاد است. لطفا کمی صبر کنید.")
	message.SetString(fa, MsgInternal, "خطایی رخ داد. لطفا دوباره تلاش کنید.")
	message.SetString(fa, MsgMethod, "این متد مجاز نیست.")
	message.SetString(fa, MsgNotFound, "یافت نشد.")
}
