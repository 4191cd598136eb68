// Package sqs implements [notify.Notifier] on an AWS SQS queue.
//
// The sender works with both standard and FIFO queues: on a queue whose URL
// ends in ".fifo" it additionally sets a message group (the candidate
// interview ID, preserving per-interview ordering) and a random deduplication
// ID.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/cadenza-ai/cadenza/pkg/notify"
)

// attrCandidateInterviewID is the message attribute mirroring the payload, so
// consumers can route without parsing the body.
const attrCandidateInterviewID = "candidateInterviewId"

// api is the subset of the SQS client used by the sender. Narrowed for tests.
type api interface {
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
}

// Notifier sends completion notifications to a single SQS queue.
type Notifier struct {
	client   api
	queueURL string
	fifo     bool
}

// Option configures a [Notifier] during construction.
type Option func(*options)

type options struct {
	region          string
	accessKeyID     string
	secretAccessKey string
	client          api
}

// WithRegion sets the AWS region. When empty, the SDK default chain decides.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithStaticCredentials uses the given key pair instead of the SDK default
// credential chain. Both values must be non-empty for the option to apply.
func WithStaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(o *options) {
		o.accessKeyID = accessKeyID
		o.secretAccessKey = secretAccessKey
	}
}

// WithClient injects a pre-built SQS client, skipping AWS config resolution.
// Primarily for tests.
func WithClient(client api) Option {
	return func(o *options) { o.client = client }
}

// New creates a Notifier bound to queueURL. Unless [WithClient] is given, AWS
// configuration is resolved once at construction via the SDK default chain,
// narrowed by [WithRegion] and [WithStaticCredentials].
func New(ctx context.Context, queueURL string, opts ...Option) (*Notifier, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs notifier: queue URL must not be empty")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil {
		loadOpts := []func(*config.LoadOptions) error{}
		if o.region != "" {
			loadOpts = append(loadOpts, config.WithRegion(o.region))
		}
		if o.accessKeyID != "" && o.secretAccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(o.accessKeyID, o.secretAccessKey, ""),
			))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("sqs notifier: load aws config: %w", err)
		}
		client = awssqs.NewFromConfig(cfg)
	}

	return &Notifier{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}, nil
}

// completionMessage is the wire payload of a completion notification.
type completionMessage struct {
	CandidateInterviewID string `json:"candidateInterviewId"`
}

// NotifyCompletion implements [notify.Notifier].
func (n *Notifier) NotifyCompletion(ctx context.Context, candidateInterviewID string) (string, error) {
	if candidateInterviewID == "" {
		return "", fmt.Errorf("sqs notifier: candidate interview ID must not be empty")
	}

	body, err := json.Marshal(completionMessage{CandidateInterviewID: candidateInterviewID})
	if err != nil {
		return "", fmt.Errorf("sqs notifier: marshal payload: %w", err)
	}

	input := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			attrCandidateInterviewID: {
				DataType:    aws.String("String"),
				StringValue: aws.String(candidateInterviewID),
			},
		},
	}
	if n.fifo {
		input.MessageGroupId = aws.String(candidateInterviewID)
		input.MessageDeduplicationId = aws.String(uuid.New().String())
	}

	out, err := n.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sqs notifier: send message: %w", err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

// Ensure Notifier satisfies the interface at compile time.
var _ notify.Notifier = (*Notifier)(nil)
