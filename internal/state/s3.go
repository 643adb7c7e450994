package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/loomctl/loom/internal/ir"
)

// s3Backend stores the state document in S3 and coordinates locking with
// DynamoDB conditional writes, which makes the lock correct across
// independent processes on different machines.
type s3Backend struct {
	bucket    string
	key       string
	region    string
	lockTable string
	encrypt   bool
	profile   string

	s3Client *s3.Client
	dbClient *dynamodb.Client
}

func newS3Backend(options map[string]string) (Backend, error) {
	bucket := options["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' option")
	}

	key := options["key"]
	if key == "" {
		key = "loom/state.json"
	}

	region := options["region"]
	if region == "" {
		region = "us-east-1"
	}

	lockTable := options["lock_table"]
	if lockTable == "" {
		return nil, fmt.Errorf("s3 backend requires 'lock_table' option: without a strongly consistent lock, concurrent commits can corrupt state")
	}

	b := &s3Backend{
		bucket:    bucket,
		key:       key,
		region:    region,
		lockTable: lockTable,
		encrypt:   options["encrypt"] == "true",
		profile:   options["profile"],
	}

	if err := b.initClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize s3 backend: %w", err)
	}

	return b, nil
}

func (b *s3Backend) initClients() error {
	ctx := context.Background()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(b.region)}
	if b.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(b.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	b.s3Client = s3.NewFromConfig(cfg)
	b.dbClient = dynamodb.NewFromConfig(cfg)
	return nil
}

func (b *s3Backend) Load(ctx context.Context) (*ir.State, error) {
	result, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return ir.NewState(), nil
		}
		// Some S3-compatible stores report the missing key differently.
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return ir.NewState(), nil
		}
		return nil, fmt.Errorf("failed to read state from s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	return decodeDocument(content)
}

func (b *s3Backend) Store(ctx context.Context, st *ir.State) error {
	data, err := encodeDocument(st)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Body:   bytes.NewReader(data),
	}
	if b.encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

// Lock takes the DynamoDB lock item with a conditional put, so two
// concurrent acquirers can never both succeed.
func (b *s3Backend) Lock(ctx context.Context, info *LockInfo) error {
	_, err := b.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.lockTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":    &dbtypes.AttributeValueMemberS{Value: b.key},
			"Token":     &dbtypes.AttributeValueMemberS{Value: info.ID},
			"Holder":    &dbtypes.AttributeValueMemberS{Value: info.Holder},
			"Operation": &dbtypes.AttributeValueMemberS{Value: info.Operation},
			"Created":   &dbtypes.AttributeValueMemberS{Value: info.Created.Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var cond *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &cond) || strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return &LockContentionError{Holder: b.readLock(ctx)}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

// Unlock releases only the lock that matches the token; releasing a
// stale token is a no-op.
func (b *s3Backend) Unlock(ctx context.Context, id string) error {
	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.lockTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.key},
		},
		ConditionExpression: aws.String("#t = :token"),
		ExpressionAttributeNames: map[string]string{
			"#t": "Token",
		},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":token": &dbtypes.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		var cond *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &cond) || strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (b *s3Backend) ForceUnlock(ctx context.Context, id string) error {
	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.lockTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to force-unlock: %w", err)
	}
	return nil
}

func (b *s3Backend) readLock(ctx context.Context) *LockInfo {
	out, err := b.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.lockTable),
		ConsistentRead: aws.Bool(true),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.key},
		},
	})
	if err != nil || out.Item == nil {
		return nil
	}

	info := &LockInfo{}
	if v, ok := out.Item["Token"].(*dbtypes.AttributeValueMemberS); ok {
		info.ID = v.Value
	}
	if v, ok := out.Item["Holder"].(*dbtypes.AttributeValueMemberS); ok {
		info.Holder = v.Value
	}
	if v, ok := out.Item["Operation"].(*dbtypes.AttributeValueMemberS); ok {
		info.Operation = v.Value
	}
	if v, ok := out.Item["Created"].(*dbtypes.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			info.Created = t
		}
	}
	return info
}
