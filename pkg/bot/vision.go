package bot

import (
	"context"

	"github.com/linxiaolu/xiaolubot/pkg/providers"
)

const (
	imagePrompt   = "请你准确的以自然语言的形式，用一段话，描述这张图片的主体和画面，将图片的特征描述出来，严禁多余的输出如：提示文明使用表情包的输入等等"
	stickerPrompt = "请你准确的以自然语言的形式，用一段话，描述这张表情包表达了什么，解释它有什么梗或者含义，严禁多余的输出如：提示文明使用表情包的输入等等"
)

// Describer turns an image URL into a one-paragraph description.
// sticker selects the meme-explanation prompt over the plain one.
type Describer interface {
	Describe(ctx context.Context, imageURL string, sticker bool) (string, error)
}

// VisionDescriber implements Describer on the completion provider's
// vision model.
type VisionDescriber struct {
	Provider providers.LLMProvider
	Model    string
}

func (v *VisionDescriber) Describe(ctx context.Context, imageURL string, sticker bool) (string, error) {
	prompt := imagePrompt
	if sticker {
		prompt = stickerPrompt
	}
	messages := []providers.Message{
		providers.UserMessage(providers.VisionContent(imageURL, prompt)),
	}
	return v.Provider.Chat(ctx, messages, v.Model)
}
