package router

import "strconv"

const (
	DefaultWelcome = "Hi! I can download videos from TikTok.\nJust send me a link to a video."

	textComposePrompt = "Send the broadcast message (text, photo, video or gif)"
	textConfirmPrompt = "Send + to confirm"
	textCancelled     = "Broadcast cancelled"
	textLoading       = "🔁 Loading..."
	textNotFound      = "Error! Looks like this video does not exist."

	confirmToken = "+"
)

func audioTitle(userID int64) string {
	return "result_" + strconv.FormatInt(userID, 10) + ".mp3"
}
