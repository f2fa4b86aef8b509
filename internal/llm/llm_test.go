package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeGenerator struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeGenerator) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func TestComplete_SendsSystemAndUserMessages(t *testing.T) {
	gen := &fakeGenerator{reply: "A chord is three or more notes sounded together."}
	c := New("@cf/openai/gpt-oss-120b", gen)

	got, err := c.Complete(context.Background(), "what is a triad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != gen.reply {
		t.Errorf("expected %q, got %q", gen.reply, got)
	}
	if len(gen.got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(gen.got))
	}
	if gen.got[0].Role != schema.System || gen.got[0].Content != SystemPrompt {
		t.Errorf("expected system prompt first, got %+v", gen.got[0])
	}
	if gen.got[1].Role != schema.User || gen.got[1].Content != "what is a triad" {
		t.Errorf("expected user question second, got %+v", gen.got[1])
	}
}

func TestComplete_Errors(t *testing.T) {
	if _, err := New("m", &fakeGenerator{err: errors.New("503 from upstream")}).Complete(context.Background(), "q"); err == nil {
		t.Error("expected upstream error")
	}
	_, err := New("m", &fakeGenerator{reply: "   "}).Complete(context.Background(), "q")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"@cf/openai/gpt-oss-120b", "gpt-oss-120b"},
		{"claude-3-5-sonnet", "claude-3-5-sonnet"},
	}
	for _, tt := range tests {
		if got := New(tt.in, nil).Name(); got != tt.want {
			t.Errorf("Name() = %s, want %s", got, tt.want)
		}
	}
}

func TestAcceptable(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     bool
	}{
		{"good", "The derivative of x squared is 2x, by the power rule.", true},
		{"too short", "It is 2x.", false},
		{"cannot", "I cannot help with that particular question today.", false},
		{"dont know", "I don't know the answer to this question, unfortunately.", false},
		{"sorry lower", "Apologies, but I am sorry to say this is out of scope.", false},
		{"sorry upper", "Sorry, that is outside what I can explain right now.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Acceptable(tt.response); got != tt.want {
				t.Errorf("Acceptable(%q) = %v, want %v", tt.response, got, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("expected 2 tokens, got %d", got)
	}
	if got := EstimateTokens("abc"); got != 0 {
		t.Errorf("expected 0 tokens, got %d", got)
	}
}
