package llm

import (
	"context"

	yandexgpt "github.com/sheeiavellie/go-yandexgpt"
)

// YandexClient completes conversations with YandexGPT.
type YandexClient struct {
	modelURI string
	options  yandexgpt.YandexGPTCompletionOptions
	complete func(context.Context, yandexgpt.YandexGPTRequest) (string, error)
}

func NewYandexClient(apiKey, folderID string, temperature float64, maxTokens int) *YandexClient {
	client := yandexgpt.NewYandexGPTClientWithAPIKey(apiKey)
	return &YandexClient{
		modelURI: yandexgpt.MakeModelURI(folderID, yandexgpt.YandexGPT4Model32k),
		options: yandexgpt.YandexGPTCompletionOptions{
			Stream:      false,
			Temperature: float32(temperature),
			MaxTokens:   maxTokens,
		},
		complete: func(ctx context.Context, req yandexgpt.YandexGPTRequest) (string, error) {
			resp, err := client.GetCompletion(ctx, req)
			if err != nil {
				return "", err
			}
			if len(resp.Result.Alternatives) == 0 {
				return "", ErrEmptyReply
			}
			return resp.Result.Alternatives[0].Message.Text, nil
		},
	}
}

func (c *YandexClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req := yandexgpt.YandexGPTRequest{
		ModelURI:          c.modelURI,
		CompletionOptions: c.options,
		Messages:          make([]yandexgpt.YandexGPTMessage, 0, len(messages)),
	}
	for _, m := range messages {
		msg := yandexgpt.YandexGPTMessage{Role: yandexgpt.YandexGPTMessageRoleUser, Text: m.Content}
		switch m.Role {
		case RoleSystem:
			msg.Role = yandexgpt.YandexGPTMessageRoleSystem
		case RoleAssistant:
			msg.Role = yandexgpt.YandexGPTMessageRoleAssistant
		}
		req.Messages = append(req.Messages, msg)
	}
	return c.complete(ctx, req)
}
