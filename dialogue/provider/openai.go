package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
)

// NewClient builds an OpenAI client for apiKey.
func NewClient(apiKey string) *openai.Client {
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return &c
}

// CallWithRetry sends params through the Responses API under policy.
func CallWithRetry(ctx context.Context, client *openai.Client, policy RetryPolicy, params responses.ResponseNewParams) (*responses.Response, error) {
	if client == nil {
		return nil, errors.New("CallWithRetry: client is nil")
	}
	return Retry(ctx, policy, func(ctx context.Context) (*responses.Response, error) {
		return client.Responses.New(ctx, params)
	})
}

// Request is one text-generation call.
type Request struct {
	Instructions string
	Input        string
	Temperature  *float64
	MaxTokens    int64

	// SchemaName and Schema switch the call to strict structured output.
	SchemaName string
	Schema     map[string]interface{}
}

// Responder wraps an OpenAI client with a model and a retry policy.
type Responder struct {
	Client *openai.Client
	Model  string
	Policy RetryPolicy
}

func (r Responder) params(req Request) responses.ResponseNewParams {
	p := responses.ResponseNewParams{
		Model: r.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Input, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if strings.TrimSpace(req.Instructions) != "" {
		p.Instructions = openai.String(req.Instructions)
	}
	if req.Temperature != nil {
		p.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		p.MaxOutputTokens = openai.Int(req.MaxTokens)
	}
	if req.Schema != nil {
		p.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   req.SchemaName,
					Schema: req.Schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}
	return p
}

// Complete returns the trimmed output text of one call.
func (r Responder) Complete(ctx context.Context, req Request) (string, error) {
	if r.Client == nil {
		return "", errors.New("Responder: client is nil")
	}
	if r.Model == "" {
		return "", errors.New("Responder: model is empty")
	}
	resp, err := CallWithRetry(ctx, r.Client, r.Policy, r.params(req))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.OutputText()), nil
}

// CompleteJSON runs a structured-output call and decodes the result into out.
func (r Responder) CompleteJSON(ctx context.Context, req Request, out any) error {
	if req.Schema == nil {
		return errors.New("CompleteJSON: schema is nil")
	}
	text, err := r.Complete(ctx, req)
	if err != nil {
		return err
	}
	if err := fileutils.DecodeModelJSON(text, out); err != nil {
		return fmt.Errorf("CompleteJSON: %s: %w", req.SchemaName, err)
	}
	return nil
}
