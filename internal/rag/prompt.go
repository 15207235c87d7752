package rag

import (
	"fmt"
	"strings"

	"novelverse/internal/store"
)

// MaxHistoryMessages bounds the conversation history included in a chat
// prompt: the last 3 user/assistant exchange pairs. Older history is cut,
// not summarized.
const MaxHistoryMessages = 6

// Persona describes the character the model should speak as.
type Persona struct {
	Name        string
	Description string
	Traits      []string
}

// ComposeChat builds the full generation prompt for one chat turn: persona
// instructions, optional retrieved context, bounded history, the new user
// message and a continuation cue in the character's voice. All instruction
// text is Vietnamese to match the platform's content language.
func ComposeChat(persona Persona, contextChunks []string, history []store.Message, newMessage string) string {
	traits := "không rõ"
	if len(persona.Traits) > 0 {
		traits = strings.Join(persona.Traits, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bạn là %s. %s Tính cách: %s. "+
		"Hãy trả lời bằng tiếng Việt và giữ nguyên vai trò của nhân vật. "+
		"Đừng phá vỡ nhân vật.",
		persona.Name, persona.Description, traits)

	writeContextSection(&b, contextChunks)

	tail := history
	if len(tail) > MaxHistoryMessages {
		tail = tail[len(tail)-MaxHistoryMessages:]
	}
	for _, msg := range tail {
		label := persona.Name
		if msg.Role == "user" {
			label = "Người dùng"
		}
		fmt.Fprintf(&b, "\n%s: %s", label, msg.Content)
	}

	fmt.Fprintf(&b, "\nNgười dùng: %s", newMessage)
	fmt.Fprintf(&b, "\n%s:", persona.Name)
	return b.String()
}

// ComposeQA builds the prompt for the full-context question answering flow.
// No persona and no history, just an answer-from-context instruction.
func ComposeQA(contextChunks []string, question string) string {
	var b strings.Builder
	b.WriteString("Dựa vào ngữ cảnh sau từ câu chuyện, trả lời câu hỏi bằng tiếng Việt một cách chi tiết.")
	writeContextSection(&b, contextChunks)
	fmt.Fprintf(&b, "\n\nCâu hỏi: %s", question)
	return b.String()
}

// ComposeArcSummary builds the summarization prompt for a chapter range. The
// combined text is prepared by the caller.
func ComposeArcSummary(startChapter, endChapter int, combinedText string) string {
	return fmt.Sprintf(
		"Tóm tắt nội dung từ chương %d đến chương %d trong 3-5 đoạn văn tiếng Việt. "+
			"Bao gồm các sự kiện chính, diễn biến của nhân vật, và những điểm nổi bật quan trọng.\n\n%s",
		startChapter, endChapter, combinedText)
}

func writeContextSection(b *strings.Builder, contextChunks []string) {
	if len(contextChunks) == 0 {
		return
	}
	b.WriteString("\n\n[Ngữ cảnh từ câu chuyện]\n")
	b.WriteString(strings.Join(contextChunks, "\n---\n"))
}
