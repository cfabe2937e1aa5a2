package signal

import (
	"strconv"
	"strings"
)

// DefaultActionKeywords mark a message as carrying a betting instruction.
var DefaultActionKeywords = []string{"Entrada:", "Aposta:", "Sinal:", "Oportunidade:"}

// HasAction is computed once at ingestion and stored with the message.
func HasAction(content string, keywords []string) bool {
	if len(keywords) == 0 {
		keywords = DefaultActionKeywords
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

// MessageID builds the stable id "<chatID>:<messageID>". Telegram message ids
// are only unique within a chat.
func MessageID(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

func ChannelID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
