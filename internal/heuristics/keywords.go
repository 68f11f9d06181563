package heuristics

// Bucket names in Config.
const (
	BucketInvoice        = "invoice"
	BucketSubscription   = "subscription"
	BucketPayment        = "payment"
	BucketCurrencyMarker = "currency_marker"
	BucketManualAccess   = "manual_access"
	BucketRenewalLabel   = "renewal_label"
	BucketMonthly        = "frequency_monthly"
	BucketYearly         = "frequency_yearly"
	BucketQuarterly      = "frequency_quarterly"
)

// Config maps a bucket name to its patterns. Intent buckets hold lowercase
// words matched on word boundaries, frequency buckets hold substrings, and
// manual_access and renewal_label hold regular expressions.
// The same Config feeds the intent scan and the field extractor.
type Config map[string][]string

// DefaultConfig returns the built-in keyword tables.
func DefaultConfig() Config {
	return Config{
		BucketInvoice: {
			"invoice",
			"receipt",
			"bill",
			"statement",
			"order confirmation",
		},
		BucketSubscription: {
			"subscription",
			"subscribe",
			"renewal",
			"renews",
			"auto-renew",
			"membership",
			"recurring",
			"trial ends",
			"your plan",
		},
		BucketPayment: {
			"payment",
			"paid",
			"charged",
			"charge",
			"transaction",
			"purchase",
			"refund",
		},
		// 3 个字母的代码按单词边界匹配，其余按子串匹配
		BucketCurrencyMarker: {
			"$", "€", "£", "¥", "₹",
			"usd", "eur", "gbp", "jpy", "inr", "aud", "cad", "chf", "cny", "nzd",
			"total:", "amount:", "price:",
		},
		BucketManualAccess: {
			`view\s+(?:your\s+)?(?:invoice|bill|receipt|statement)s?\s+online`,
			`download\s+(?:your\s+|the\s+)?(?:pdf\s+)?(?:invoice|receipt|bill|statement)`,
			`(?:log|sign)\s*-?\s*in\s+to\s+(?:view|see|download)`,
			`click\s+(?:here\s+)?to\s+view\s+(?:your\s+)?(?:bill|invoice|statement|receipt)`,
			`view\s+your\s+(?:latest\s+)?statement`,
			`(?:invoice|bill|statement)\s+is\s+(?:now\s+)?available\s+(?:online|in\s+your\s+account)`,
		},
		BucketRenewalLabel: {
			`renewal date:`,
			`next charge on:`,
			`will renew on:`,
			`renews on:`,
			`next billing date:`,
			`next payment date:`,
		},
		BucketMonthly: {
			"monthly",
			"per month",
			"/month",
			"every month",
			"each month",
		},
		BucketYearly: {
			"annual",
			"yearly",
			"per year",
			"/year",
			"every year",
		},
		BucketQuarterly: {
			"quarterly",
			"per quarter",
			"every 3 months",
			"every three months",
		},
	}
}

// brands maps a lowercase body token to its display name, checked in order.
type brand struct {
	token string
	name  string
}

var brands = []brand{
	{"youtube premium", "YouTube Premium"},
	{"amazon prime", "Amazon Prime"},
	{"microsoft 365", "Microsoft 365"},
	{"google one", "Google One"},
	{"disney+", "Disney+"},
	{"netflix", "Netflix"},
	{"spotify", "Spotify"},
	{"hulu", "Hulu"},
	{"icloud", "iCloud"},
	{"adobe", "Adobe"},
	{"github", "GitHub"},
	{"notion", "Notion"},
	{"slack", "Slack"},
	{"zoom", "Zoom"},
	{"dropbox", "Dropbox"},
	{"chatgpt", "ChatGPT"},
	{"openai", "OpenAI"},
	{"figma", "Figma"},
	{"canva", "Canva"},
	{"digitalocean", "DigitalOcean"},
	{"heroku", "Heroku"},
	{"vercel", "Vercel"},
}
