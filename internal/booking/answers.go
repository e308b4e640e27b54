package booking

import "strings"

var (
	affirmative = map[string]bool{"да": true, "yes": true, "подтверждаю": true, "ок": true, "ok": true, "конечно": true}
	negative    = map[string]bool{"нет": true, "no": true, "отмена": true, "cancel": true, "stop": true}
	cancelWords = map[string]bool{"отмена": true, "cancel": true, "стоп": true, "stop": true}

	bookingKeywords = []string{"запис", "book", "appointment"}
)

func normalizeAnswer(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimSpace(strings.Trim(s, ".,!?"))
}

func IsAffirmative(text string) bool { return affirmative[normalizeAnswer(text)] }

func IsNegative(text string) bool { return negative[normalizeAnswer(text)] }

func isCancelWord(text string) bool { return cancelWords[normalizeAnswer(text)] }

func hasBookingKeyword(text string) bool {
	s := strings.ToLower(text)
	for _, k := range bookingKeywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func wantsCancellation(text string) bool {
	return strings.Contains(strings.ToLower(text), "отмен")
}
