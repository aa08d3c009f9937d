package featurestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemakerfeaturestoreruntime"
	"github.com/aws/aws-sdk-go/service/sts"
)

// SageMakerAPI is the part of the SageMaker control plane FeatureGroup
// needs.
type SageMakerAPI interface {
	CreateFeatureGroupWithContext(ctx aws.Context,
		input *sagemaker.CreateFeatureGroupInput,
		opts ...request.Option) (*sagemaker.CreateFeatureGroupOutput, error)
	DescribeFeatureGroupWithContext(ctx aws.Context,
		input *sagemaker.DescribeFeatureGroupInput,
		opts ...request.Option) (*sagemaker.DescribeFeatureGroupOutput, error)
}

// FeatureStoreRuntimeAPI is the record ingestion endpoint.
type FeatureStoreRuntimeAPI interface {
	PutRecordWithContext(ctx aws.Context,
		input *sagemakerfeaturestoreruntime.PutRecordInput,
		opts ...request.Option) (*sagemakerfeaturestoreruntime.PutRecordOutput,
		error)
}

// STSAPI resolves the account the job runs under.
type STSAPI interface {
	GetCallerIdentityWithContext(ctx aws.Context,
		input *sts.GetCallerIdentityInput,
		opts ...request.Option) (*sts.GetCallerIdentityOutput, error)
}

// SageMakerClient implements Client on top of the SageMaker Feature Store.
type SageMakerClient struct {
	SageMaker SageMakerAPI
	Runtime   FeatureStoreRuntimeAPI
}

// NewSession opens an AWS session for region, honoring the shared config
// files. An empty region defers to the environment.
func NewSession(region string) (*session.Session, error) {
	config := aws.NewConfig()
	if region != "" {
		config = config.WithRegion(region)
	}
	return session.NewSessionWithOptions(session.Options{
		Config:            *config,
		SharedConfigState: session.SharedConfigEnable,
	})
}

func NewSageMakerClient(sess *session.Session) *SageMakerClient {
	return &SageMakerClient{
		SageMaker: sagemaker.New(sess),
		Runtime:   sagemakerfeaturestoreruntime.New(sess),
	}
}

func (client *SageMakerClient) CreateFeatureGroup(ctx context.Context,
	spec GroupSpec) error {
	definitions := make([]*sagemaker.FeatureDefinition, len(spec.Definitions))
	for idx, definition := range spec.Definitions {
		definitions[idx] = &sagemaker.FeatureDefinition{
			FeatureName: aws.String(definition.Name),
			FeatureType: aws.String(string(definition.Type)),
		}
	}
	input := &sagemaker.CreateFeatureGroupInput{
		FeatureGroupName:            aws.String(spec.Name),
		RecordIdentifierFeatureName: aws.String(spec.RecordIdentifier),
		EventTimeFeatureName:        aws.String(spec.EventTime),
		FeatureDefinitions:          definitions,
		OnlineStoreConfig: &sagemaker.OnlineStoreConfig{
			EnableOnlineStore: aws.Bool(spec.EnableOnlineStore),
		},
	}
	if spec.OfflineStoreUri != "" {
		input.OfflineStoreConfig = &sagemaker.OfflineStoreConfig{
			S3StorageConfig: &sagemaker.S3StorageConfig{
				S3Uri: aws.String(spec.OfflineStoreUri),
			},
		}
	}
	if spec.RoleArn != "" {
		input.RoleArn = aws.String(spec.RoleArn)
	}
	if spec.Description != "" {
		input.Description = aws.String(spec.Description)
	}
	_, err := client.SageMaker.CreateFeatureGroupWithContext(ctx, input)
	return err
}

func (client *SageMakerClient) DescribeFeatureGroup(ctx context.Context,
	name string) (*Description, error) {
	output, err := client.SageMaker.DescribeFeatureGroupWithContext(ctx,
		&sagemaker.DescribeFeatureGroupInput{
			FeatureGroupName: aws.String(name),
		})
	if err != nil {
		return nil, err
	}
	description := &Description{
		Name:             aws.StringValue(output.FeatureGroupName),
		Status:           ParseStatus(aws.StringValue(output.FeatureGroupStatus)),
		FailureReason:    aws.StringValue(output.FailureReason),
		RecordIdentifier: aws.StringValue(output.RecordIdentifierFeatureName),
		EventTime:        aws.StringValue(output.EventTimeFeatureName),
	}
	for _, definition := range output.FeatureDefinitions {
		description.FeatureDefinitions = append(description.FeatureDefinitions,
			FeatureDefinition{
				Name: aws.StringValue(definition.FeatureName),
				Type: FeatureType(aws.StringValue(definition.FeatureType)),
			})
	}
	if output.OnlineStoreConfig != nil {
		description.OnlineStoreEnabled =
			aws.BoolValue(output.OnlineStoreConfig.EnableOnlineStore)
	}
	if output.OfflineStoreConfig != nil &&
		output.OfflineStoreConfig.S3StorageConfig != nil {
		description.OfflineStoreEnabled = true
		description.ResolvedOfflineUri = aws.StringValue(
			output.OfflineStoreConfig.S3StorageConfig.ResolvedOutputS3Uri)
	}
	return description, nil
}

func (client *SageMakerClient) PutRecord(ctx context.Context, group string,
	record []FeatureValue) error {
	values := make([]*sagemakerfeaturestoreruntime.FeatureValue, len(record))
	for idx, value := range record {
		values[idx] = &sagemakerfeaturestoreruntime.FeatureValue{
			FeatureName:   aws.String(value.Name),
			ValueAsString: aws.String(value.Value),
		}
	}
	_, err := client.Runtime.PutRecordWithContext(ctx,
		&sagemakerfeaturestoreruntime.PutRecordInput{
			FeatureGroupName: aws.String(group),
			Record:           values,
		})
	return err
}

// AccountId is the AWS account of the caller.
func AccountId(ctx context.Context, api STSAPI) (string, error) {
	output, err := api.GetCallerIdentityWithContext(ctx,
		&sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("resolving account id: %w", err)
	}
	return aws.StringValue(output.Account), nil
}

// OfflineStorePrefix is the key prefix under which the offline store
// materializes a group's data.
func OfflineStorePrefix(prefix string, account string, region string,
	group string) string {
	parts := []string{account, "sagemaker", region, "offline-store", group,
		"data"}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// S3Uri joins bucket and prefix into an `s3://` location.
func S3Uri(bucket string, prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "s3://" + bucket
	}
	return "s3://" + bucket + "/" + prefix
}
