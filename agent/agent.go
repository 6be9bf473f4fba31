// Package agent answers free text. A model picks one of the bot's
// commands to run, or answers directly when none fits.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

var (
	DefaultPrompt = `You are a helpful crypto market assistant inside a chat bot.

You can't see live prices yourself; the bot's commands fetch them.
For general questions, answer directly.

Output rules:
- Be concise and direct
- Max 1024 chars
- Never give financial advice`

	MaxTokens = 1024
)

// toolSelectionPrompt asks the model which command fits the question.
const toolSelectionPrompt = `Which tool should I use for this question: "%s"

Available tools:
- price: price by ticker symbol (btc, eth, sol)
- pricename: price by coin name (bitcoin cash, shiba inu)
- priceid: price by CoinGecko id (bitcoin-cash, shiba-inu)
- vol24: 24 hour trading volume by coin name
- topcap: top coins by market cap, n from 1 to 10
- info: what a coin is, by coin id (bitcoin, ethereum)
- news: crypto news headlines, optionally about a coin
- none: general questions, definitions, anything else

Respond ONLY with JSON: {"tool": "name", "args": {"key": "value"}}
Examples:
- btc price -> {"tool": "price", "args": {"symbol": "btc"}}
- how much is bitcoin cash -> {"tool": "pricename", "args": {"name": "bitcoin cash"}}
- ethereum volume today -> {"tool": "vol24", "args": {"name": "ethereum"}}
- top 5 coins -> {"tool": "topcap", "args": {"n": 5}}
- what is solana -> {"tool": "info", "args": {"id": "solana"}}
- latest crypto news -> {"tool": "news", "args": {}}
- what is a blockchain -> {"tool": "none", "args": {}}`

// Executor runs a bot command without an interactive conversation.
type Executor interface {
	Execute(ctx context.Context, name string, args []string) (string, error)
}

// Completer is the chat completion call of the OpenAI client.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Message represents a conversation message
type Message struct {
	Role    string
	Content string
}

type ToolDecision struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type Agent struct {
	client Completer
	model  string
	exec   Executor
	prompt string
}

func New(client Completer, model string, exec Executor) *Agent {
	if len(model) == 0 {
		model = openai.GPT3Dot5Turbo
	}
	return &Agent{
		client: client,
		model:  model,
		exec:   exec,
		prompt: DefaultPrompt,
	}
}

// NewOpenAI builds an agent on the OpenAI API, or any API compatible with
// it when baseURL is set.
func NewOpenAI(key, baseURL, model string, exec Executor) (*Agent, error) {
	if len(key) == 0 {
		return nil, errors.New("missing OpenAI API key")
	}

	config := openai.DefaultConfig(key)
	if len(baseURL) > 0 {
		config.BaseURL = baseURL
	}
	return New(openai.NewClientWithConfig(config), model, exec), nil
}

// Prompt answers userPrompt, running a command when the model picks one.
func (a *Agent) Prompt(ctx context.Context, history []Message, userPrompt string) (string, error) {
	decision, err := a.selectTool(ctx, userPrompt)
	if err != nil {
		log.Warn().Str("component", "agent").Err(err).Msg("tool selection failed")
	}

	if decision != nil && len(decision.Tool) > 0 && decision.Tool != "none" {
		name, args, ok := commandFor(decision)
		if ok {
			log.Debug().Str("component", "agent").Str("tool", name).Strs("args", args).Msg("running tool")
			result, err := a.exec.Execute(ctx, name, args)
			if err != nil {
				return "❌ " + err.Error(), nil
			}
			if len(result) > 0 {
				return result, nil
			}
		}
	}

	return a.directResponse(ctx, history, userPrompt)
}

// commandFor maps a tool decision to a command and its arguments.
func commandFor(d *ToolDecision) (string, []string, bool) {
	str := func(key string) string {
		v, _ := d.Args[key].(string)
		return strings.TrimSpace(v)
	}
	words := func(key string) ([]string, bool) {
		f := strings.Fields(str(key))
		return f, len(f) > 0
	}

	switch d.Tool {
	case "price":
		args, ok := words("symbol")
		return "price", args, ok
	case "pricename":
		args, ok := words("name")
		return "pricename", args, ok
	case "priceid":
		args, ok := words("id")
		return "priceid", args, ok
	case "vol24":
		args, ok := words("name")
		return "vol24", args, ok
	case "info":
		args, ok := words("id")
		return "info", args, ok
	case "news":
		args, _ := words("query")
		return "news", args, true
	case "topcap":
		var n int
		switch v := d.Args["n"].(type) {
		case float64:
			n = int(v)
		case string:
			n, _ = strconv.Atoi(v)
		}
		if n == 0 {
			n = 5
		}
		return "topcap", []string{strconv.Itoa(n)}, true
	}
	return "", nil, false
}

func (a *Agent) selectTool(ctx context.Context, userPrompt string) (*ToolDecision, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(toolSelectionPrompt, userPrompt)},
		},
		MaxTokens: 100,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response")
	}

	return parseDecision(resp.Choices[0].Message.Content), nil
}

// parseDecision reads the JSON object out of the reply, which models
// sometimes wrap in prose or code fences.
func parseDecision(content string) *ToolDecision {
	var decision ToolDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start >= 0 && end > start {
			json.Unmarshal([]byte(content[start:end+1]), &decision)
		}
	}
	return &decision
}

func (a *Agent) directResponse(ctx context.Context, history []Message, userPrompt string) (string, error) {
	chatMessages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: a.prompt,
	}}

	for _, m := range history {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	chatMessages = append(chatMessages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		Messages:  chatMessages,
		MaxTokens: MaxTokens,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from AI")
	}

	return resp.Choices[0].Message.Content, nil
}
