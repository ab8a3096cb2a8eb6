package imageapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ImagenConfig describes how to reach Vertex AI Imagen.
type ImagenConfig struct {
	ProjectID          string
	Location           string
	Model              string
	EditModel          string
	APIKey             string
	ServiceAccountFile string
	ServiceAccountJSON string
}

type predictor interface {
	Predict(ctx context.Context, req *aiplatformpb.PredictRequest) (*aiplatformpb.PredictResponse, error)
}

// ImagenClient implements Client on top of the Vertex prediction API.
// References can only be passed by URL when they live in Cloud Storage.
type ImagenClient struct {
	predictor predictor
	closer    func() error
	project   string
	location  string
	model     string
	editModel string
	logger    *zap.Logger
}

// NewImagenClient dials the regional prediction endpoint.
func NewImagenClient(ctx context.Context, cfg ImagenConfig, logger *zap.Logger) (*ImagenClient, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	location := strings.TrimSpace(cfg.Location)
	if project == "" || location == "" {
		return nil, fmt.Errorf("imageapi: imagen needs project and location")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "imagen-3.0-generate-002"
	}
	editModel := strings.TrimSpace(cfg.EditModel)
	if editModel == "" {
		editModel = "imagen-3.0-capability-001"
	}

	options := []option.ClientOption{option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", location))}
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		options = append(options, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	case strings.TrimSpace(cfg.ServiceAccountFile) != "":
		options = append(options, option.WithCredentialsFile(cfg.ServiceAccountFile))
	case strings.TrimSpace(cfg.APIKey) != "":
		options = append(options, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, ErrMissingCredentials
	}

	client, err := aiplatform.NewPredictionClient(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("imageapi: prediction client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImagenClient{
		predictor: client,
		closer:    client.Close,
		project:   project,
		location:  location,
		model:     model,
		editModel: editModel,
		logger:    logger.Named("imageapi.imagen"),
	}, nil
}

// Close releases the gRPC connection.
func (c *ImagenClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// TextToImage implements Client.
func (c *ImagenClient) TextToImage(ctx context.Context, params Params) (Response, error) {
	instance := map[string]any{"prompt": params.Prompt}
	return c.predict(ctx, c.model, instance, c.parameters(params, false))
}

// ImageToImage implements Client.
func (c *ImagenClient) ImageToImage(ctx context.Context, source Source, params Params) (Response, error) {
	image := map[string]any{}
	switch {
	case source.Inline():
		image["bytesBase64Encoded"] = base64.StdEncoding.EncodeToString(source.Data)
		image["mimeType"] = DetectMIME(source.Data, source.MIME)
	case strings.HasPrefix(strings.TrimSpace(source.URL), "gs://"):
		image["gcsUri"] = strings.TrimSpace(source.URL)
	case strings.TrimSpace(source.URL) != "":
		// only Cloud Storage references are readable by Vertex
		return Response{}, &StatusError{StatusCode: http.StatusBadRequest, Body: "imagen accepts gs:// or inline source images"}
	default:
		return Response{}, fmt.Errorf("imageapi: image-to-image needs a source image")
	}

	instance := map[string]any{
		"prompt": params.Prompt,
		"referenceImages": []any{
			map[string]any{
				"referenceType":  "REFERENCE_TYPE_RAW",
				"referenceId":    1,
				"referenceImage": image,
			},
		},
	}
	return c.predict(ctx, c.editModel, instance, c.parameters(params, true))
}

func (c *ImagenClient) parameters(params Params, edit bool) map[string]any {
	n := params.N
	if n <= 0 {
		n = 1
	}
	out := map[string]any{
		"sampleCount":   n,
		"outputOptions": map[string]any{"mimeType": "image/png"},
	}
	if ratio := aspectRatio(params.Size); ratio != "" {
		out["aspectRatio"] = ratio
	}
	if params.Seed > 0 {
		out["seed"] = params.Seed % (1 << 31)
		out["addWatermark"] = false
	}
	if params.CFGScale > 0 {
		out["guidanceScale"] = params.CFGScale
	}
	if edit {
		out["editMode"] = "EDIT_MODE_DEFAULT"
		if params.Steps > 0 {
			out["editConfig"] = map[string]any{"baseSteps": params.Steps}
		}
	}
	return out
}

func (c *ImagenClient) predict(ctx context.Context, model string, instance, parameters map[string]any) (Response, error) {
	instanceValue, err := structpb.NewValue(instance)
	if err != nil {
		return Response{}, fmt.Errorf("imageapi: imagen instance: %w", err)
	}
	paramsValue, err := structpb.NewValue(parameters)
	if err != nil {
		return Response{}, fmt.Errorf("imageapi: imagen parameters: %w", err)
	}

	endpoint := fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", c.project, c.location, model)
	resp, err := c.predictor.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:   endpoint,
		Instances:  []*structpb.Value{instanceValue},
		Parameters: paramsValue,
	})
	if err != nil {
		return Response{}, mapGRPCError(err)
	}
	c.logger.Debug("imagen predict", zap.String("model", model), zap.Int("predictions", len(resp.GetPredictions())))
	return parsePredictions(resp)
}

func parsePredictions(resp *aiplatformpb.PredictResponse) (Response, error) {
	out := Response{}
	for _, prediction := range resp.GetPredictions() {
		fields := prediction.GetStructValue().GetFields()
		encoded := fields["bytesBase64Encoded"].GetStringValue()
		if encoded == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Response{}, fmt.Errorf("imageapi: imagen decode result: %w", err)
		}
		out.Images = append(out.Images, Image{
			Data:         data,
			MIME:         DetectMIME(data, fields["mimeType"].GetStringValue()),
			FinishReason: fields["raiFilteredReason"].GetStringValue(),
		})
	}
	if _, ok := out.First(); !ok {
		return Response{}, ErrNoImage
	}
	return out, nil
}

// mapGRPCError translates a gRPC status into the HTTP-shaped StatusError
// used by the retry policy.
func mapGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("imageapi: imagen predict: %w", err)
	}
	return fmt.Errorf("imageapi: imagen predict: %w", &StatusError{StatusCode: httpStatus(st.Code()), Body: clip(st.Message(), MaxErrorBody)})
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
