// Package guardrails filters chat input and output for content safety.
package guardrails

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"waris-go/internal/model"
	"waris-go/pkg/log"
)

// Default length limits in characters. The conversation cap is ten times
// the input cap.
const (
	DefaultMaxInputLength  = 4000
	DefaultMaxOutputLength = 8000
)

// DefaultBlockedTopics are refused in both questions and answers.
var DefaultBlockedTopics = []string{
	"การเมือง",
	"ศาสนา",
	"เรื่องเพศ",
	"ความรุนแรงทางกาย",
	"ทำร้ายร่างกาย",
	"สารเสพติด",
	"ยาเสพติด",
}

// DefaultAllowedDomains mark a question as on-topic for the water-loss
// assistant. They are used to steer, not to refuse.
var DefaultAllowedDomains = []string{
	"น้ำสูญเสีย",
	"water loss",
	"NRW",
	"DMA",
	"ท่อ",
	"มิเตอร์",
	"ความดัน",
	"pressure",
	"flow",
	"กปภ",
	"ประปา",
	"รายงาน",
	"แจ้งเตือน",
	"วิเคราะห์",
	"ความรุนแรง",
	"severity",
	"critical",
	"warning",
	"สรุป",
	"summary",
}

var (
	injectionRegex = regexp.MustCompile(`(?i)ignore\s+(previous|above|all)\s+instructions?|disregard\s+(previous|above|all)|forget\s+(everything|all|previous)|new\s+instructions?:|system\s*prompt|<\s*system\s*>|]\s*}\s*{`)

	controlCharRegex = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)

	thaiIDRegex = regexp.MustCompile(`\b\d{13}\b`)
	phoneRegex  = regexp.MustCompile(`\b0[689]\d{8}\b`)
	emailRegex  = regexp.MustCompile(`\b[\w.-]+@[\w.-]+\.\w+\b`)
)

// Guardrails holds the compiled content-safety rules.
type Guardrails struct {
	blockedTopics   []string
	allowedDomains  []string
	maxInputLength  int
	maxOutputLength int
	blockedRegex    *regexp.Regexp
}

// New builds guardrails. Empty lists and zero limits fall back to the
// defaults.
func New(blockedTopics, allowedDomains []string, maxInputLength, maxOutputLength int) *Guardrails {
	if len(blockedTopics) == 0 {
		blockedTopics = DefaultBlockedTopics
	}
	if len(allowedDomains) == 0 {
		allowedDomains = DefaultAllowedDomains
	}
	if maxInputLength <= 0 {
		maxInputLength = DefaultMaxInputLength
	}
	if maxOutputLength <= 0 {
		maxOutputLength = DefaultMaxOutputLength
	}

	escaped := make([]string, len(blockedTopics))
	for i, topic := range blockedTopics {
		escaped[i] = regexp.QuoteMeta(topic)
	}

	return &Guardrails{
		blockedTopics:   blockedTopics,
		allowedDomains:  allowedDomains,
		maxInputLength:  maxInputLength,
		maxOutputLength: maxOutputLength,
		blockedRegex:    regexp.MustCompile(`(?i)` + strings.Join(escaped, "|")),
	}
}

// CheckInput validates and sanitizes a user message. On rejection the
// reason is a user-facing Thai string.
func (g *Guardrails) CheckInput(text string) (bool, string, string) {
	if utf8.RuneCountInString(text) > g.maxInputLength {
		return false, truncateRunes(text, g.maxInputLength), "ข้อความยาวเกินไป"
	}

	if injectionRegex.MatchString(text) {
		log.Warnf("[Guardrails] injection attempt detected: %s", truncateRunes(text, 100))
		return false, "", "ตรวจพบรูปแบบข้อความที่ไม่อนุญาต"
	}

	if g.blockedRegex.MatchString(text) {
		return false, "", "คำถามนี้อยู่นอกเหนือขอบเขตของระบบ"
	}

	return true, sanitize(text), ""
}

// CheckOutput validates and filters a model answer. A false result means
// the answer was replaced with the returned refusal text.
func (g *Guardrails) CheckOutput(text string) (bool, string) {
	if utf8.RuneCountInString(text) > g.maxOutputLength {
		text = truncateRunes(text, g.maxOutputLength) + "..."
	}

	if g.blockedRegex.MatchString(text) {
		log.Warnf("[Guardrails] output contains blocked content")
		return false, "ขออภัย ไม่สามารถตอบคำถามนี้ได้"
	}

	return true, redactSensitive(text)
}

// IsDomainRelevant reports whether the text touches any allowed domain
// keyword. Used to steer the conversation back, never to refuse.
func (g *Guardrails) IsDomainRelevant(text string) bool {
	lower := strings.ToLower(text)
	for _, domain := range g.allowedDomains {
		if strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// DomainReminder is the polite answer for off-topic questions.
func (g *Guardrails) DomainReminder() string {
	return "ขออภัยครับ/ค่ะ ระบบ WARIS เป็นผู้ช่วยเฉพาะด้านการวิเคราะห์น้ำสูญเสียของ กปภ. " +
		"หากมีคำถามเกี่ยวกับน้ำสูญเสีย DMA หรือข้อมูลในระบบ ยินดีช่วยเหลือครับ/ค่ะ"
}

// WithDisclaimer appends an estimation disclaimer when the answer contains
// predictive wording.
func (g *Guardrails) WithDisclaimer(response string) string {
	for _, word := range []string{"คาดว่า", "น่าจะ", "อาจจะ", "ประมาณ"} {
		if strings.Contains(response, word) {
			return response + "\n\n*หมายเหตุ: ข้อมูลนี้เป็นการประมาณการจากโมเดล AI อาจมีความคลาดเคลื่อน*"
		}
	}
	return response
}

// ValidateConversation checks the full history: total length, then each
// user turn through the input rules.
func (g *Guardrails) ValidateConversation(messages []model.ChatMessage) (bool, string) {
	total := 0
	for _, m := range messages {
		total += utf8.RuneCountInString(m.Content)
	}
	if total > g.maxInputLength*10 {
		return false, "ประวัติการสนทนายาวเกินไป กรุณาเริ่มการสนทนาใหม่"
	}

	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		if ok, _, reason := g.CheckInput(m.Content); !ok {
			return false, reason
		}
	}
	return true, ""
}

// sanitize strips control characters and collapses whitespace.
func sanitize(text string) string {
	text = controlCharRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// redactSensitive masks Thai national IDs, mobile numbers and email
// addresses.
func redactSensitive(text string) string {
	text = thaiIDRegex.ReplaceAllString(text, "[หมายเลขบัตรประชาชน]")
	text = phoneRegex.ReplaceAllString(text, "[เบอร์โทรศัพท์]")
	return emailRegex.ReplaceAllString(text, "[อีเมล]")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
