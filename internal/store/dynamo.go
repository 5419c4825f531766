package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/traffic-tacos/todo-api/internal/metrics"
	"github.com/traffic-tacos/todo-api/internal/models"
)

const (
	ownerIndexName = "owner_id-index"

	userSequence = "users"
	todoSequence = "todos"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Tables names the four tables backing DynamoStore.
//
//	users    PK id (N)
//	todos    PK id (N), GSI owner_id-index on owner_id (N)
//	uniques  PK key (S): "username#<name>" / "email#<addr>" guard items pointing at user_id
//	counters PK name (S): atomic id sequences
type Tables struct {
	Users    string
	Todos    string
	Uniques  string
	Counters string
}

// DynamoStore implements Store on DynamoDB
type DynamoStore struct {
	client DynamoAPI
	tables Tables
	logger *logrus.Logger
	tracer trace.Tracer
}

// uniqueItem reserves a username or email for a single user
type uniqueItem struct {
	Key    string `dynamodbav:"key"`
	UserID int64  `dynamodbav:"user_id"`
}

func NewDynamoStore(client DynamoAPI, tables Tables, logger *logrus.Logger) *DynamoStore {
	return &DynamoStore{
		client: client,
		tables: tables,
		logger: logger,
		tracer: otel.Tracer("todo-api/store"),
	}
}

// observe opens a span and returns a func that records metrics and closes it
func (s *DynamoStore) observe(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "dynamodb."+op, trace.WithAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", op),
	))
	start := time.Now()

	return ctx, func(err error) {
		status := "success"
		if err != nil && !IsNotFound(err) && !IsConflict(err) {
			status = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RecordStoreOperation(op, status, time.Since(start))
		span.End()
	}
}

func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tables.Users),
	})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", s.tables.Users, err)
	}
	return nil
}

// nextID atomically increments the named counter and returns the new value
func (s *DynamoStore) nextID(ctx context.Context, sequence string) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Counters),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: sequence},
		},
		UpdateExpression:         aws.String("ADD #seq :one"),
		ExpressionAttributeNames: map[string]string{"#seq": "seq"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s sequence: %w", sequence, err)
	}

	seq, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("increment %s sequence: missing seq attribute", sequence)
	}

	id, err := strconv.ParseInt(seq.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("increment %s sequence: %w", sequence, err)
	}
	return id, nil
}

func idKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoStore) CreateUser(ctx context.Context, user *models.User) (err error) {
	ctx, done := s.observe(ctx, "create_user")
	defer func() { done(err) }()

	id, err := s.nextID(ctx, userSequence)
	if err != nil {
		return err
	}
	user.ID = id

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	usernameGuard, err := attributevalue.MarshalMap(uniqueItem{Key: "username#" + user.Username, UserID: id})
	if err != nil {
		return fmt.Errorf("marshal username guard: %w", err)
	}
	emailGuard, err := attributevalue.MarshalMap(uniqueItem{Key: "email#" + normalizeEmail(user.Email), UserID: id})
	if err != nil {
		return fmt.Errorf("marshal email guard: %w", err)
	}

	guardCondition := aws.String("attribute_not_exists(#k)")
	guardNames := map[string]string{"#k": "key"}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.tables.Users),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
			{Put: &types.Put{
				TableName:                aws.String(s.tables.Uniques),
				Item:                     usernameGuard,
				ConditionExpression:      guardCondition,
				ExpressionAttributeNames: guardNames,
			}},
			{Put: &types.Put{
				TableName:                aws.String(s.tables.Uniques),
				Item:                     emailGuard,
				ConditionExpression:      guardCondition,
				ExpressionAttributeNames: guardNames,
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for _, reason := range tce.CancellationReasons {
				if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
					s.logger.WithField("username", user.Username).Debug("Username or email already taken")
					return ErrConflict
				}
			}
		}
		return fmt.Errorf("put user: %w", err)
	}

	return nil
}

func (s *DynamoStore) GetUser(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, done := s.observe(ctx, "get_user")
	defer func() { done(err) }()

	return s.getUser(ctx, id)
}

func (s *DynamoStore) getUser(ctx context.Context, id int64) (*models.User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Users),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(out.Item, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &user, nil
}

func (s *DynamoStore) GetUserByUsername(ctx context.Context, username string) (user *models.User, err error) {
	ctx, done := s.observe(ctx, "get_user_by_username")
	defer func() { done(err) }()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Uniques),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: "username#" + username},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get username guard: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var guard uniqueItem
	if err := attributevalue.UnmarshalMap(out.Item, &guard); err != nil {
		return nil, fmt.Errorf("unmarshal username guard: %w", err)
	}

	return s.getUser(ctx, guard.UserID)
}

func (s *DynamoStore) UpdatePassword(ctx context.Context, id int64, hashedPassword string, at time.Time) (err error) {
	ctx, done := s.observe(ctx, "update_password")
	defer func() { done(err) }()

	updatedAt, err := attributevalue.Marshal(at)
	if err != nil {
		return fmt.Errorf("marshal updated_at: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tables.Users),
		Key:                 idKey(id),
		UpdateExpression:    aws.String("SET hashed_password = :h, updated_at = :u"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: hashedPassword},
			":u": updatedAt,
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListAll(ctx context.Context) (todos []models.Todo, err error) {
	ctx, done := s.observe(ctx, "list_todos")
	defer func() { done(err) }()

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.tables.Todos),
	})

	todos = []models.Todo{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan todos: %w", err)
		}

		var batch []models.Todo
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal todos: %w", err)
		}
		todos = append(todos, batch...)
	}

	sortTodos(todos)
	return todos, nil
}

func (s *DynamoStore) ListByOwner(ctx context.Context, ownerID int64) (todos []models.Todo, err error) {
	ctx, done := s.observe(ctx, "list_todos_by_owner")
	defer func() { done(err) }()

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Todos),
		IndexName:              aws.String(ownerIndexName),
		KeyConditionExpression: aws.String("owner_id = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberN{Value: strconv.FormatInt(ownerID, 10)},
		},
	})

	todos = []models.Todo{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query todos by owner: %w", err)
		}

		var batch []models.Todo
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal todos: %w", err)
		}
		todos = append(todos, batch...)
	}

	sortTodos(todos)
	return todos, nil
}

func (s *DynamoStore) GetTodo(ctx context.Context, id int64) (todo *models.Todo, err error) {
	ctx, done := s.observe(ctx, "get_todo")
	defer func() { done(err) }()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Todos),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get todo: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	todo = &models.Todo{}
	if err := attributevalue.UnmarshalMap(out.Item, todo); err != nil {
		return nil, fmt.Errorf("unmarshal todo: %w", err)
	}
	return todo, nil
}

func (s *DynamoStore) CreateTodo(ctx context.Context, todo *models.Todo) (err error) {
	ctx, done := s.observe(ctx, "create_todo")
	defer func() { done(err) }()

	id, err := s.nextID(ctx, todoSequence)
	if err != nil {
		return err
	}
	todo.ID = id

	return s.putTodo(ctx, todo, "attribute_not_exists(id)")
}

func (s *DynamoStore) UpdateTodo(ctx context.Context, todo *models.Todo) (err error) {
	ctx, done := s.observe(ctx, "update_todo")
	defer func() { done(err) }()

	err = s.putTodo(ctx, todo, "attribute_exists(id)")
	if isConditionFailed(err) {
		return ErrNotFound
	}
	return err
}

func (s *DynamoStore) putTodo(ctx context.Context, todo *models.Todo, condition string) error {
	item, err := attributevalue.MarshalMap(todo)
	if err != nil {
		return fmt.Errorf("marshal todo: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Todos),
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	if err != nil {
		return fmt.Errorf("put todo: %w", err)
	}
	return nil
}

func sortTodos(todos []models.Todo) {
	sort.Slice(todos, func(i, j int) bool { return todos[i].ID < todos[j].ID })
}
