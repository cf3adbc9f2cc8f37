// Package locale holds the user-facing delivery messages and renders them
// in the configured language.
package locale

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	// ProviderSuppressed takes the site name.
	ProviderSuppressed = "provider-suppressed"
	GateSuppressed     = "gate-suppressed"
	RateLimited        = "rate-limited"
	// Rejected takes the response body and the HTTP status code.
	Rejected      = "rejected"
	Unreachable   = "unreachable"
	Configuration = "configuration"
)

var supported = []language.Tag{language.SimplifiedChinese, language.English}

var matcher = language.NewMatcher(supported)

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.SimplifiedChinese))

	zh := language.SimplifiedChinese
	mustSet(b, zh, ProviderSuppressed, "你绑定的邮箱无法接收 %s 发送的邮件，请前往「个人资料」页面更改绑定邮箱后再尝试发送")
	mustSet(b, zh, GateSuppressed, "你绑定的邮箱地址有误，请前往「个人资料」页面更改绑定邮箱后再尝试发送")
	mustSet(b, zh, RateLimited, "邮件发送失败，请稍后再试，或联系站点管理员。")
	mustSet(b, zh, Rejected, "邮件发送失败，请联系站点管理员。详细错误：%s (code %d).")
	mustSet(b, zh, Unreachable, "无法连接邮件发送服务器，请稍后再试，或联系站点管理员。详细错误：Could not reach the OCI Email Delivery server.")
	mustSet(b, zh, Configuration, "邮件服务配置有误，请联系站点管理员。")

	en := language.English
	mustSet(b, en, ProviderSuppressed, "Your email address cannot receive mail from %s. Change it on your profile page and try again.")
	mustSet(b, en, GateSuppressed, "Your email address appears to be invalid. Change it on your profile page and try again.")
	mustSet(b, en, RateLimited, "Failed to send email. Please try again later or contact the site administrator.")
	mustSet(b, en, Rejected, "Failed to send email. Please contact the site administrator. Details: %s (code %d).")
	mustSet(b, en, Unreachable, "Could not reach the mail server. Please try again later or contact the site administrator. Details: Could not reach the OCI Email Delivery server.")
	mustSet(b, en, Configuration, "The mail service is misconfigured. Please contact the site administrator.")

	return b
}

func mustSet(b *catalog.Builder, tag language.Tag, key, msg string) {
	if err := b.SetString(tag, key, msg); err != nil {
		panic(err)
	}
}

// Translator renders message keys for one language. It is safe for
// concurrent use.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a Translator for a BCP 47 tag such as "zh-Hans" or "en".
// Unknown or empty tags fall back to Simplified Chinese.
func New(locale string) *Translator {
	tag := language.SimplifiedChinese
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			_, idx, conf := matcher.Match(parsed)
			if conf != language.No {
				tag = supported[idx]
			}
		}
	}
	return &Translator{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(cat)),
	}
}

// Tag reports the resolved language.
func (t *Translator) Tag() language.Tag {
	return t.tag
}

// Text renders key with args.
func (t *Translator) Text(key string, args ...any) string {
	return t.printer.Sprintf(key, args...)
}
