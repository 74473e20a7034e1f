package builtin

import "github.com/polisai/polis-safety/pkg/rule"

// Content types reported by the built-in rules.
const (
	ContentCrypto          = "CRYPTO"
	ContentPhoneNumber     = "PHONE_NUMBER"
	ContentSensitiveSocial = "SENSITIVE_SOCIAL"
	ContentAdult           = "ADULT_CONTENT"
)

// Detection goals handed to a span finder by the *_LLM_Finder policies.
const (
	GoalCrypto          = "cryptocurrency related keywords"
	GoalPhoneNumber     = "phone numbers"
	GoalSensitiveSocial = "keywords about sensitive social issues such as racism, discrimination or hate speech"
	GoalAdult           = "adult or sexually explicit content keywords"
)

// CryptoKeywords returns the keyword lists used by the crypto policies.
func CryptoKeywords() rule.KeywordSet {
	return rule.KeywordSet{
		"en": {
			"bitcoin", "btc", "ethereum", "eth", "cryptocurrency", "cryptocurrencies",
			"crypto", "crypto wallet", "blockchain", "altcoin", "dogecoin", "litecoin",
			"solana", "ripple", "xrp", "tether", "usdt", "stablecoin", "binance",
			"coinbase", "nft", "defi", "token sale", "ico", "mining rig",
		},
		"tr": {
			"kripto", "kripto para", "kripto paralar", "kripto cüzdan", "bitcoin",
			"ethereum", "blokzincir", "blok zinciri", "altcoin", "dogecoin", "binance",
			"madencilik", "coin",
		},
	}
}

// SensitiveSocialKeywords returns the keyword lists used by the sensitive social issue policies.
func SensitiveSocialKeywords() rule.KeywordSet {
	return rule.KeywordSet{
		"en": {
			"racism", "racist", "sexism", "sexist", "discrimination", "hate speech",
			"xenophobia", "homophobia", "islamophobia", "antisemitism", "white supremacy",
			"ethnic cleansing", "genocide", "terrorism", "extremism", "radicalization",
			"slur", "segregation",
		},
		"tr": {
			"ırkçılık", "ırkçı", "cinsiyetçilik", "ayrımcılık", "nefret söylemi",
			"yabancı düşmanlığı", "homofobi", "soykırım", "etnik temizlik", "terörizm",
			"aşırıcılık", "radikalleşme",
		},
	}
}

// AdultKeywords returns the keyword lists used by the adult content policies.
func AdultKeywords() rule.KeywordSet {
	return rule.KeywordSet{
		"en": {
			"porn", "porno", "pornography", "pornographic", "xxx", "nude", "nudes",
			"nudity", "sex video", "sex tape", "explicit content", "adult content",
			"erotic", "escort", "camgirl", "onlyfans", "nsfw", "hentai", "fetish",
		},
		"tr": {
			"porno", "pornografi", "çıplak", "çıplaklık", "müstehcen", "erotik",
			"yetişkin içerik", "seks videosu", "eskort",
		},
	}
}

// PhonePatterns returns the patterns used by the phone number policies. They
// cover North American and international formats with optional separators.
func PhonePatterns() []rule.Pattern {
	return []rule.Pattern{
		{
			Name: "phone.international",
			Expr: `\+\d{1,3}[\s.-]?(?:\(\d{1,4}\)|\d{1,4})(?:[\s.-]?\d{2,4}){2,3}`,
		},
		{
			Name: "phone.nanp",
			Expr: `(?:\(\d{3}\)|\d{3})[\s.-]?\d{3}[\s.-]?\d{4}`,
		},
		{
			Name: "phone.tr-mobile",
			Expr: `0?5\d{2}[\s]?\d{3}[\s]?\d{2}[\s]?\d{2}`,
		},
	}
}
