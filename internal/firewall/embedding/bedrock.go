package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/promptfirewall/firewall/pkg/observability"
)

var errEmptyEmbedding = errors.New("bedrock returned an empty embedding vector")

// titanEmbeddingRequest/Response mirror the Amazon Titan Text
// Embeddings wire format.
type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// BedrockEmbedder calls an AWS Bedrock embedding model (default Amazon
// Titan Text Embeddings v2, 1024 dims) and L2-normalizes the result.
type BedrockEmbedder struct {
	client     *bedrockruntime.Client
	model      string
	dimensions int
	logger     observability.Logger
}

// NewBedrockEmbedder loads the default AWS credential chain for region
// and constructs a Bedrock Runtime client.
func NewBedrockEmbedder(ctx context.Context, region, model string, dimensions int, logger observability.Logger) (*BedrockEmbedder, error) {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if model == "" {
		model = "amazon.titan-embed-text-v2:0"
	}
	if dimensions == 0 {
		dimensions = 1024
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, wrapErr(model, err)
	}

	return &BedrockEmbedder{
		client:     bedrockruntime.NewFromConfig(cfg),
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}, nil
}

func (b *BedrockEmbedder) Dimensions() int { return b.dimensions }

func (b *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, wrapErr(b.model, err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, wrapErr(b.model, err)
	}

	var resp titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, wrapErr(b.model, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, wrapErr(b.model, errEmptyEmbedding)
	}

	return Normalize(resp.Embedding), nil
}
