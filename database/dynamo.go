package database

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/bagel"
	"graphcomputer/graph"
	"graphcomputer/util"
)

const (
	DYNAMODB = "dynamodb"

	vertexPrefix = "v#"
	memoryPrefix = "m#"

	maxBatchRetries = 5
)

var _ bagel.Storage = (*DynamoStorage)(nil)

type DynamoConfig struct {
	TableName string
	Region    string
	// Endpoint overrides the service endpoint, for DynamoDB local.
	Endpoint        string
	AccessKeyId     string
	SecretAccessKey string
}

// dynamoItem is one vertex or one memory value. Items of a location share
// its partition key and are told apart by the prefix of their sort key.
type dynamoItem struct {
	Location string `dynamodbav:"Location"`
	SortKey  string `dynamodbav:"SortKey"`
	ID       uint64 `dynamodbav:"ID,omitempty"`
	Hash     int64  `dynamodbav:"Hash,omitempty"`
	Data     []byte `dynamodbav:"Data"`
}

type DynamoStorage struct {
	svc       *dynamodb.Client
	tableName string
	options   Options
}

func init() {
	Register(DYNAMODB, func(ctx context.Context, u *url.URL, options Options) (bagel.Storage, error) {
		query := u.Query()
		dynamoConfig := DynamoConfig{
			TableName: u.Host,
			Region:    query.Get("region"),
			Endpoint:  query.Get("endpoint"),
		}
		if u.User != nil {
			dynamoConfig.AccessKeyId = u.User.Username()
			dynamoConfig.SecretAccessKey, _ = u.User.Password()
		}
		return NewDynamoStorage(ctx, dynamoConfig, options)
	})
}

// GetDynamoClient builds a client from the default credential chain, or from
// static credentials when the config carries them.
func GetDynamoClient(ctx context.Context, dynamoConfig DynamoConfig) (*dynamodb.Client, error) {
	region := dynamoConfig.Region
	if region == "" {
		region = util.Getenv("AWS_REGION", DEFAULT_REGION)
	}
	loadOptions := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if dynamoConfig.AccessKeyId != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(dynamoConfig.AccessKeyId, dynamoConfig.SecretAccessKey, ""),
		))
	}
	if dynamoConfig.Endpoint != "" {
		endpoint := dynamoConfig.Endpoint
		loadOptions = append(loadOptions, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
			}),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		log.Printf("GetDynamoClient: unable to load SDK config %v", err)
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func NewDynamoStorage(ctx context.Context, dynamoConfig DynamoConfig, options Options) (*DynamoStorage, error) {
	if dynamoConfig.TableName == "" {
		dynamoConfig.TableName = CENTRAL_DB_NAME
	}
	svc, err := GetDynamoClient(ctx, dynamoConfig)
	if err != nil {
		return nil, err
	}
	return &DynamoStorage{svc: svc, tableName: dynamoConfig.TableName, options: options}, nil
}

// CreateTable creates the table and waits until it is active.
func (s *DynamoStorage) CreateTable(ctx context.Context) error {
	_, err := s.svc.CreateTable(ctx, &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("Location"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SortKey"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("Location"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SortKey"), KeyType: types.KeyTypeRange},
		},
		TableName:   aws.String(s.tableName),
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return errors.Wrapf(err, "creating table %s", s.tableName)
	}
	log.Printf("CreateTable: successfully created table %v", s.tableName)
	return s.waitForTable(ctx)
}

func (s *DynamoStorage) waitForTable(ctx context.Context) error {
	w := dynamodb.NewTableExistsWaiter(s.svc)
	return w.Wait(ctx,
		&dynamodb.DescribeTableInput{
			TableName: aws.String(s.tableName),
		},
		2*time.Minute,
		func(o *dynamodb.TableExistsWaiterOptions) {
			o.MaxDelay = 5 * time.Second
			o.MinDelay = 5 * time.Second
		})
}

func vertexSortKey(id uint64) string {
	return fmt.Sprintf("%s%020d", vertexPrefix, id)
}

func memorySortKey(key string) string {
	return memoryPrefix + key
}

// queryLocation pages through the items of a location whose sort key has
// the given prefix.
func (s *DynamoStorage) queryLocation(ctx context.Context, location string, prefix string, fn func([]dynamoItem) error) error {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#l = :l"),
		ExpressionAttributeNames: map[string]string{
			"#l": "Location",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":l": &types.AttributeValueMemberS{Value: location},
		},
	}
	if prefix != "" {
		input.KeyConditionExpression = aws.String("#l = :l AND begins_with(#s, :p)")
		input.ExpressionAttributeNames["#s"] = "SortKey"
		input.ExpressionAttributeValues[":p"] = &types.AttributeValueMemberS{Value: prefix}
	}
	p := dynamodb.NewQueryPaginator(s.svc, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return errors.Wrapf(err, "querying %q", location)
		}
		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return err
		}
		if err := fn(items); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStorage) ReadGraph(ctx context.Context, location string) (*graph.Collection, error) {
	if err := checkLocation(location); err != nil {
		return nil, err
	}
	codec := s.options.codec()
	var vertices []*graph.Vertex
	err := s.queryLocation(ctx, location, vertexPrefix, func(items []dynamoItem) error {
		for _, item := range items {
			v, err := decodeVertex(codec, item.Data)
			if err != nil {
				return err
			}
			vertices = append(vertices, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vertices) == 0 {
		return nil, notFound(location)
	}
	return collect(vertices, s.options), nil
}

func (s *DynamoStorage) WriteGraph(ctx context.Context, location string, g *graph.Collection) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	if err := s.deletePrefix(ctx, location, vertexPrefix); err != nil {
		return err
	}
	codec := s.options.codec()
	vertices := g.Vertices()
	requests := make([]types.WriteRequest, 0, len(vertices))
	for _, v := range vertices {
		data, err := encodeVertex(codec, v)
		if err != nil {
			return err
		}
		request, err := marshalVertexWriteReq(location, v.Id, data)
		if err != nil {
			return err
		}
		requests = append(requests, request)
	}
	return s.BatchWrite(ctx, requests)
}

func marshalVertexWriteReq(location string, id uint64, data []byte) (types.WriteRequest, error) {
	item, err := attributevalue.MarshalMap(dynamoItem{
		Location: location,
		SortKey:  vertexSortKey(id),
		ID:       id,
		Hash:     util.HashId(id),
		Data:     data,
	})
	if err != nil {
		return types.WriteRequest{}, err
	}
	return types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}, nil
}

func deleteWriteReq(location string, sortKey string) types.WriteRequest {
	return types.WriteRequest{
		DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{
				"Location": &types.AttributeValueMemberS{Value: location},
				"SortKey":  &types.AttributeValueMemberS{Value: sortKey},
			},
		},
	}
}

// BatchWrite sends requests in batches of 25, resending unprocessed items.
func (s *DynamoStorage) BatchWrite(ctx context.Context, requests []types.WriteRequest) error {
	batches := getBatches(len(requests), MAXIMUM_ITEMS_PER_BATCH)
	for b, batch := range batches {
		pending := requests[batch[0]:batch[1]]
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > maxBatchRetries {
				return errors.Errorf("batch %d: %d items left unprocessed", b, len(pending))
			}
			out, err := s.svc.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{
					s.tableName: pending,
				},
			})
			if err != nil {
				return errors.Wrapf(err, "failed to upload batch %v", b)
			}
			pending = out.UnprocessedItems[s.tableName]
			if len(pending) > 0 {
				time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
			}
		}
		log.Debugf("BatchWrite: successfully uploaded batch %v/%v", b+1, len(batches))
	}
	return nil
}

func (s *DynamoStorage) deletePrefix(ctx context.Context, location string, prefix string) error {
	var requests []types.WriteRequest
	err := s.queryLocation(ctx, location, prefix, func(items []dynamoItem) error {
		for _, item := range items {
			requests = append(requests, deleteWriteReq(location, item.SortKey))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.BatchWrite(ctx, requests)
}

func (s *DynamoStorage) ReadMemory(ctx context.Context, location string, key string) (interface{}, error) {
	out, err := s.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"Location": &types.AttributeValueMemberS{Value: location},
			"SortKey":  &types.AttributeValueMemberS{Value: memorySortKey(key)},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading memory")
	}
	if out.Item == nil {
		return nil, memoryNotFound(location, key)
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return decodeMemory(item.Data)
}

func (s *DynamoStorage) WriteMemory(ctx context.Context, location string, key string, value interface{}) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	data, err := encodeMemory(value)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(dynamoItem{
		Location: location,
		SortKey:  memorySortKey(key),
		Data:     data,
	})
	if err != nil {
		return err
	}
	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	return errors.Wrap(err, "writing memory")
}

func (s *DynamoStorage) Exists(ctx context.Context, location string) (bool, error) {
	limit := int32(1)
	out, err := s.svc.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#l = :l"),
		ExpressionAttributeNames: map[string]string{
			"#l": "Location",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":l": &types.AttributeValueMemberS{Value: location},
		},
		Limit: &limit,
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to verify location %q", location)
	}
	return len(out.Items) != 0, nil
}

func (s *DynamoStorage) Delete(ctx context.Context, location string) error {
	return s.deletePrefix(ctx, location, "")
}

// Locations scans the whole table for distinct locations.
func (s *DynamoStorage) Locations(ctx context.Context) ([]string, error) {
	p := dynamodb.NewScanPaginator(s.svc, &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		ProjectionExpression: aws.String("#l"),
		ExpressionAttributeNames: map[string]string{
			"#l": "Location",
		},
	})
	seen := make(map[string]bool)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "scanning locations")
		}
		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			seen[item.Location] = true
		}
	}
	locations := make([]string, 0, len(seen))
	for l := range seen {
		locations = append(locations, l)
	}
	sort.Strings(locations)
	return locations, nil
}
