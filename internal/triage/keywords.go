package triage

import "strings"

// Keyword tables driving priority, type, and the rule fallback. Matching is
// case-insensitive substring over subject+body (or the caller's intent).

var urgentKeywords = []string{"urgent", "긴급", "asap", "immediate", "critical", "deadline"}

var highKeywords = []string{"important", "중요", "high", "priority", "due"}

// "issue" deliberately stays out of the bug table: issue-tracking chatter
// mentions it constantly without describing a defect.
var bugKeywords = []string{"bug", "error", "problem", "fail", "broken", "오류", "문제"}

var featureKeywords = []string{"feature", "request", "enhancement", "improvement", "새기능", "요청"}

// Explicit ticket-creation intent, checked against the caller's request in
// the rule fallback.
var intentKeywords = []string{
	"ticket", "task", "issue", "bug", "project", "schedule",
	"티켓", "일감", "작업", "할일", "일정", "스케줄", "프로젝트", "이슈", "버그",
}

// Auxiliary signal keywords recorded as decision metadata.
var signalKeywords = []string{
	"urgent", "important", "deadline", "meeting", "project", "task",
	"issue", "bug", "error", "request", "approve", "review", "feedback",
	"action", "required", "schedule", "appointment", "conference", "call",
	"support", "help", "problem", "solution", "update", "status",
	"서버", "접속", "불가", "기능", "제안", "요청", "프로젝트",
	"문제", "오류", "버그", "작업", "일정", "회의", "승인",
	"시스템", "장애", "복구", "테스트", "배포",
}

func containsAny(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// matchSignals returns the signal keywords present in the text.
func matchSignals(text string) []string {
	text = strings.ToLower(text)
	var found []string
	for _, k := range signalKeywords {
		if strings.Contains(text, k) {
			found = append(found, k)
		}
	}
	return found
}

// HasExplicitIntent reports whether the caller's request names ticket
// creation explicitly.
func HasExplicitIntent(intent string) bool {
	return containsAny(intent, intentKeywords)
}
