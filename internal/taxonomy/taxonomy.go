// Package taxonomy defines the closed set of semantic domains that labels
// are allowed to carry, plus the normalization and coercion rules that keep
// every other package on that set.
package taxonomy

import (
	"sort"
	"strings"
)

// OOS is the reserved catch-all domain for anything outside the taxonomy.
const OOS = "oos"

// canon lists the canonical domains in the order they are shown to models.
var canon = []string{
	"house",
	"utilizer",
	"okc",
	"payments",
	"boltalka",
	OOS,
}

var descriptions = map[string]string{
	"house":    "ЖКХ: передать показания, счетчики, квитанции, коммунальные услуги.",
	"utilizer": "Вывоз/утилизация старых вещей, мебели, техники.",
	"okc":      "Консультации и информация: транспорт, расписания, цены, как работает, где найти.",
	"payments": "ДЕЙСТВИЯ по оплате: пополнить карту питания, оплатить кружок, внести деньги.",
	"boltalka": "Небольшая беседа: шутки, приветствия, общение без услуги.",
	OOS:        "Запрос не относится к нашим доменам.",
}

// keywords holds the built-in per-domain signal tokens. Substring matches,
// soft priors only. No keywords for oos.
var keywords = map[string][]string{
	"house": {
		"показан", "водосч", "счетчик", "счётчик", "электр", "квитанц", "жкх",
		"тариф", "оплат", "передать показания", "передай показания", "воды",
		"джу", "дж у", "джуу", "дж уу",
	},
	"utilizer": {
		"утилиз", "забер", "вывоз", "мебел", "шкаф", "диван", "холодильн", "стар",
		"заберите", "забрать", "перевезти", "утилизация", "телевизор",
	},
	"okc": {
		"метро", "станц", "перекрыт", "расписан", "транспорт", "закрыт", "поезд",
		"маршрут", "работает ли", "новость", "инфо", "график",
		"сколько", "как работает", "где найти", "что такое", "как получить",
		"стоимост", "цена", "тариф", "расскажи", "объясни", "подскажи",
	},
	"payments": {
		"оплат", "пополн", "внести", "заплат", "перевест", "доплат",
		"карт", "питан", "школ", "детск", "сад", "кружок", "секци",
		"баланс", "счет", "деньги", "руб", "оплачу", "заплачу",
	},
	"boltalka": {
		"шутк", "расскажи", "привет", "пока", "как дела", "анекдот", "поговорим",
		"спасибо", "не смешно", "тест",
	},
}

// aliases maps legacy label spellings to canonical ids.
var aliases = map[string]string{
	"HOUSE":    "house",
	"UTILIZER": "utilizer",
	"OKC":      "okc",
	"BOLTALKA": "boltalka",
	"OOS":      OOS,
}

// stopPhrases are user utterances that must never reach a classifier;
// they are answered as oos directly.
var stopPhrases = map[string]bool{
	"хватит":      true,
	"перестань":   true,
	"достаточно":  true,
	"стоп":        true,
	"прекрати":    true,
	"остановись":  true,
	"хватит уже":  true,
	"перестаньте": true,
	"прекратите":  true,
}

// Canon returns a copy of the canonical domain list.
func Canon() []string {
	out := make([]string, len(canon))
	copy(out, canon)
	return out
}

// Describe returns the short human-readable description of a domain,
// or "" for unknown domains.
func Describe(domain string) string {
	return descriptions[domain]
}

// IsCanonical reports whether the label is one of the canonical domains.
func IsCanonical(label string) bool {
	for _, d := range canon {
		if label == d {
			return true
		}
	}
	return false
}

// Normalize maps a raw label to its canonical spelling: exact matches pass
// through, known aliases resolve, anything else is lowercased.
func Normalize(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return OOS
	}
	if IsCanonical(label) {
		return label
	}
	if mapped, ok := aliases[strings.ToUpper(label)]; ok {
		return mapped
	}
	return strings.ToLower(label)
}

// Validate normalizes a label and coerces anything non-canonical to oos.
// Every domain string that crosses a package boundary goes through here.
func Validate(label string) string {
	normalized := Normalize(label)
	if !IsCanonical(normalized) {
		return OOS
	}
	return normalized
}

// IsStopPhrase reports whether the text is a stop phrase that should be
// answered as oos without classification.
func IsStopPhrase(text string) bool {
	return stopPhrases[strings.ToLower(strings.TrimSpace(text))]
}

// Keywords returns a copy of the built-in per-domain keyword lists.
func Keywords() map[string][]string {
	out := make(map[string][]string, len(keywords))
	for domain, list := range keywords {
		cp := make([]string, len(list))
		copy(cp, list)
		out[domain] = cp
	}
	return out
}

// RankCandidates ranks domains by keyword hits in the text and returns up
// to k of them, padded with the remaining canonical domains in order. With
// no hits the plain canonical list is returned. A hint, not a restriction.
func RankCandidates(text string, k int) []string {
	if k <= 0 {
		return nil
	}
	lower := strings.ToLower(text)

	type hit struct {
		domain string
		score  int
	}
	var hits []hit
	for _, domain := range canon {
		score := 0
		for _, kw := range keywords[domain] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{domain, score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})

	ranked := make([]string, 0, len(canon))
	seen := make(map[string]bool, len(canon))
	for _, h := range hits {
		ranked = append(ranked, h.domain)
		seen[h.domain] = true
	}
	for _, d := range canon {
		if !seen[d] {
			ranked = append(ranked, d)
		}
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
