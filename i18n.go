package quizstudio

import "fmt"

type messageKey int

const (
	msgJobStartedTitle messageKey = iota
	msgJobStartedBody
	msgJobCompletedTitle
	msgJobCompletedBody
	msgJobErrorTitle
	msgJobCancelledTitle
	msgJobCancelledBody
	msgUnknownError
	msgNoUsableContent
	msgNoQuestions
	msgQuizEmpty
	msgQuizNotFound
	msgResumeMissing
	msgCheckFailed
	msgUntitledQuiz
)

var messages = map[Language]map[messageKey]string{
	LangEnglish: {
		msgJobStartedTitle:   "Processing started: %s",
		msgJobStartedBody:    "The AI is generating your quiz. You will be notified upon completion.",
		msgJobCompletedTitle: "Quiz created: %s",
		msgJobCompletedBody:  "Your quiz is ready! Click to view.",
		msgJobErrorTitle:     "Processing error: %s",
		msgJobCancelledTitle: "Cancelled: %s",
		msgJobCancelledBody:  "The quiz generation process was cancelled.",
		msgUnknownError:      "An unknown error occurred.",
		msgNoUsableContent:   "Could not extract enough content from the files.",
		msgNoQuestions:       "The AI couldn't generate a quiz from these files.",
		msgQuizEmpty:         "This quiz has no questions and cannot be started.",
		msgQuizNotFound:      "Could not find the original quiz for this attempt. It might have been deleted.",
		msgResumeMissing:     "Could not resume. Original quiz or attempt data is missing.",
		msgCheckFailed:       "Error checking answer.",
		msgUntitledQuiz:      "Untitled Quiz",
	},
	LangVietnamese: {
		msgJobStartedTitle:   "Bắt đầu xử lý: %s",
		msgJobStartedBody:    "AI đang tạo quiz của bạn. Bạn sẽ được thông báo khi hoàn tất.",
		msgJobCompletedTitle: "Tạo quiz thành công: %s",
		msgJobCompletedBody:  "Quiz của bạn đã sẵn sàng! Nhấn để xem.",
		msgJobErrorTitle:     "Lỗi xử lý: %s",
		msgJobCancelledTitle: "Đã hủy: %s",
		msgJobCancelledBody:  "Quá trình tạo quiz đã bị hủy.",
		msgUnknownError:      "Lỗi không xác định.",
		msgNoUsableContent:   "Không thể trích xuất đủ nội dung từ các tệp.",
		msgNoQuestions:       "AI không thể tạo quiz từ các tệp này.",
		msgQuizEmpty:         "Quiz này không có câu hỏi nào.",
		msgQuizNotFound:      "Không tìm thấy bộ quiz gốc cho lần làm bài này. Nó có thể đã bị xóa.",
		msgResumeMissing:     "Không thể tiếp tục. Dữ liệu bài làm hoặc quiz gốc bị thiếu.",
		msgCheckFailed:       "Lỗi khi kiểm tra đáp án.",
		msgUntitledQuiz:      "Quiz không tên",
	},
}

func localize(lang Language, key messageKey, args ...any) string {
	table, ok := messages[lang]
	if !ok {
		table = messages[LangEnglish]
	}
	format := table[key]
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
