// Package ddb implements the repository interfaces on a single DynamoDB table.
package ddb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository"
)

// DBClient is the subset of *dynamodb.Client the store uses.
type DBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is a repository.Store on one table keyed by PK/SK.
type Store struct {
	client    DBClient
	tableName string
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore creates a DynamoDB-backed store.
func NewStore(client DBClient, tableName string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

var _ repository.Store = (*Store)(nil)

// ============================================================================
// PROMPT READER
// ============================================================================

// FindUnchainedPrompts returns the user's prompts with no chain created at or
// after q.Since, oldest first.
func (s *Store) FindUnchainedPrompts(ctx context.Context, q repository.CandidateQuery) ([]domain.PromptRecord, error) {
	items, err := s.queryPrefix(ctx, q.UserID, promptPrefix)
	if err != nil {
		return nil, classify(err, "ddb.FindUnchainedPrompts", "failed to fetch unchained prompts")
	}

	since := ""
	if !q.Since.IsZero() {
		since = formatTime(q.Since)
	}

	prompts := []domain.PromptRecord{}
	for _, raw := range items {
		var it promptItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, apperrors.Wrap(err, "ddb.FindUnchainedPrompts", "failed to unmarshal prompt")
		}
		if it.ChainID != "" || it.CreatedAt < since {
			continue
		}
		created, err := parseTime(it.CreatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, "ddb.FindUnchainedPrompts", "failed to parse prompt")
		}
		prompts = append(prompts, domain.PromptRecord{ID: it.ID, PromptText: it.Prompt, CreatedAt: created})
	}

	sort.SliceStable(prompts, func(i, j int) bool {
		return prompts[i].CreatedAt.Before(prompts[j].CreatedAt)
	})
	return prompts, nil
}

// ============================================================================
// CHAIN WRITER
// ============================================================================

// InsertChain writes a chain item. With an idempotency key the chain and a
// key item are written in one transaction that fails if the key exists.
func (s *Store) InsertChain(ctx context.Context, record domain.ChainRecord) (*domain.ChainRecord, error) {
	record.ID = uuid.NewString()

	item, err := attributevalue.MarshalMap(newChainItem(record))
	if err != nil {
		return nil, apperrors.Wrap(err, "ddb.InsertChain", "failed to marshal chain")
	}

	if record.IdempotencyKey == "" {
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		if err != nil {
			return nil, classify(err, "ddb.InsertChain", "failed to insert chain")
		}
		return &record, nil
	}

	keyItem, err := attributevalue.MarshalMap(chainKeyItem{
		PK:         userPK(record.UserID),
		SK:         chainKeySK(record.IdempotencyKey),
		EntityType: entityChainKey,
		ChainID:    record.ID,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "ddb.InsertChain", "failed to marshal idempotency key")
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                keyItem,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(s.tableName),
				Item:      item,
			}},
		},
	})
	if err != nil {
		return nil, classify(err, "ddb.InsertChain", "failed to insert chain")
	}
	return &record, nil
}

// LinkPrompts sets ChainID on each prompt item. Missing prompts are skipped.
func (s *Store) LinkPrompts(ctx context.Context, userID, chainID string, promptIDs []string) error {
	update := expression.Set(expression.Name("ChainID"), expression.Value(chainID))
	cond := expression.AttributeExists(expression.Name("PK"))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return apperrors.Wrap(err, "ddb.LinkPrompts", "failed to build expression")
	}

	for _, id := range promptIDs {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.tableName),
			Key:                       promptKey(userID, id),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			s.logger.Warn("prompt missing while linking chain",
				zap.String("user_id", userID),
				zap.String("chain_id", chainID),
				zap.String("prompt_id", id))
			continue
		}
		if err != nil {
			return classify(err, "ddb.LinkPrompts", "failed to link prompts to chain")
		}
	}
	return nil
}

// ============================================================================
// CHAIN READER
// ============================================================================

// ListChains returns the user's chains, newest first.
func (s *Store) ListChains(ctx context.Context, userID string) ([]domain.ChainRecord, error) {
	items, err := s.queryPrefix(ctx, userID, chainPrefix)
	if err != nil {
		return nil, classify(err, "ddb.ListChains", "failed to list chains")
	}

	chains := make([]domain.ChainRecord, 0, len(items))
	for _, raw := range items {
		record, err := unmarshalChain(raw)
		if err != nil {
			return nil, apperrors.Wrap(err, "ddb.ListChains", "failed to unmarshal chain")
		}
		chains = append(chains, record)
	}

	sort.SliceStable(chains, func(i, j int) bool {
		return chains[i].StartTimestamp.After(chains[j].StartTimestamp)
	})
	return chains, nil
}

// FindChainByIdempotencyKey resolves the key item, then loads the chain.
func (s *Store) FindChainByIdempotencyKey(ctx context.Context, userID, key string) (*domain.ChainRecord, error) {
	raw, err := s.getItem(ctx, userPK(userID), chainKeySK(key))
	if err != nil {
		return nil, classify(err, "ddb.FindChainByIdempotencyKey", "failed to find chain")
	}
	if raw == nil {
		return nil, chainNotFound(userID)
	}

	var keyItem chainKeyItem
	if err := attributevalue.UnmarshalMap(raw, &keyItem); err != nil {
		return nil, apperrors.Wrap(err, "ddb.FindChainByIdempotencyKey", "failed to unmarshal idempotency key")
	}

	raw, err = s.getItem(ctx, userPK(userID), chainSK(keyItem.ChainID))
	if err != nil {
		return nil, classify(err, "ddb.FindChainByIdempotencyKey", "failed to find chain")
	}
	if raw == nil {
		return nil, chainNotFound(userID)
	}

	record, err := unmarshalChain(raw)
	if err != nil {
		return nil, apperrors.Wrap(err, "ddb.FindChainByIdempotencyKey", "failed to unmarshal chain")
	}
	return &record, nil
}

// ============================================================================
// ANALYSIS REPOSITORY
// ============================================================================

// SaveAnalysis writes a prompt item, assigning ID and CreatedAt when empty.
func (s *Store) SaveAnalysis(ctx context.Context, analysis *domain.PromptAnalysis) error {
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = s.now().UTC()
	}

	item, err := attributevalue.MarshalMap(newPromptItem(analysis))
	if err != nil {
		return apperrors.Wrap(err, "ddb.SaveAnalysis", "failed to marshal analysis")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return classify(err, "ddb.SaveAnalysis", "failed to save analysis")
	}
	return nil
}

// ListAnalyses returns the user's analyses, newest first.
func (s *Store) ListAnalyses(ctx context.Context, userID string, limit int) ([]domain.PromptAnalysis, error) {
	analyses, err := s.loadAnalyses(ctx, userID)
	if err != nil {
		return nil, classify(err, "ddb.ListAnalyses", "failed to list analyses")
	}

	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].CreatedAt.After(analyses[j].CreatedAt)
	})
	if limit > 0 && len(analyses) > limit {
		analyses = analyses[:limit]
	}
	for i := range analyses {
		analyses[i].Embedding = nil
	}
	return analyses, nil
}

// FindSimilarPrompts scores every stored embedding for the user. The table has
// no vector index, so this is a full partition read.
func (s *Store) FindSimilarPrompts(ctx context.Context, q repository.SimilarityQuery) ([]domain.SimilarPrompt, error) {
	analyses, err := s.loadAnalyses(ctx, q.UserID)
	if err != nil {
		return nil, classify(err, "ddb.FindSimilarPrompts", "failed to search prompts")
	}
	return repository.RankSimilar(analyses, q), nil
}

// DeleteAnalysis deletes one prompt item.
func (s *Store) DeleteAnalysis(ctx context.Context, userID, analysisID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 promptKey(userID, analysisID),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return analysisNotFound("ddb.DeleteAnalysis", userID)
	}
	if err != nil {
		return classify(err, "ddb.DeleteAnalysis", "failed to delete analysis")
	}
	return nil
}

// DeleteAllAnalyses deletes every prompt item in the user's partition. Chain
// items are kept.
func (s *Store) DeleteAllAnalyses(ctx context.Context, userID string) (int, error) {
	items, err := s.queryPrefix(ctx, userID, promptPrefix)
	if err != nil {
		return 0, classify(err, "ddb.DeleteAllAnalyses", "failed to delete history")
	}

	deleted := 0
	for _, item := range items {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
		})
		if err != nil {
			return deleted, classify(err, "ddb.DeleteAllAnalyses", "failed to delete history")
		}
		deleted++
	}

	s.logger.Info("analysis history deleted",
		zap.String("user_id", userID),
		zap.Int("deleted", deleted))
	return deleted, nil
}

// DiscoverPrompts ranks the user's analyses in memory after a partition read.
func (s *Store) DiscoverPrompts(ctx context.Context, q repository.DiscoverQuery) ([]domain.DiscoveredPrompt, error) {
	analyses, err := s.loadAnalyses(ctx, q.UserID)
	if err != nil {
		return nil, classify(err, "ddb.DiscoverPrompts", "failed to discover prompts")
	}
	return repository.RankDiscover(analyses, q), nil
}

// ============================================================================
// EMBEDDING REPOSITORY
// ============================================================================

// FindUnembeddedPrompts returns the user's prompts without an embedding,
// oldest first.
func (s *Store) FindUnembeddedPrompts(ctx context.Context, userID string, limit int) ([]domain.PromptRecord, error) {
	analyses, err := s.loadAnalyses(ctx, userID)
	if err != nil {
		return nil, classify(err, "ddb.FindUnembeddedPrompts", "failed to fetch prompts for backfill")
	}

	prompts := []domain.PromptRecord{}
	for _, a := range analyses {
		if len(a.Embedding) == 0 {
			prompts = append(prompts, domain.PromptRecord{ID: a.ID, PromptText: a.Prompt, CreatedAt: a.CreatedAt})
		}
	}
	sort.SliceStable(prompts, func(i, j int) bool {
		return prompts[i].CreatedAt.Before(prompts[j].CreatedAt)
	})
	if limit > 0 && len(prompts) > limit {
		prompts = prompts[:limit]
	}
	return prompts, nil
}

// SetEmbedding sets Embedding on an existing prompt item.
func (s *Store) SetEmbedding(ctx context.Context, userID, promptID string, embedding []float64) error {
	update := expression.Set(expression.Name("Embedding"), expression.Value(embedding))
	cond := expression.AttributeExists(expression.Name("PK"))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return apperrors.Wrap(err, "ddb.SetEmbedding", "failed to build expression")
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       promptKey(userID, promptID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return analysisNotFound("ddb.SetEmbedding", userID)
	}
	if err != nil {
		return classify(err, "ddb.SetEmbedding", "failed to update embedding")
	}
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func promptKey(userID, promptID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: promptSK(promptID)},
	}
}

func analysisNotFound(operation, userID string) error {
	return apperrors.NotFound(apperrors.CodeAnalysisNotFound, "analysis not found").
		WithOperation(operation).
		WithUserID(userID).
		Build()
}

func (s *Store) loadAnalyses(ctx context.Context, userID string) ([]domain.PromptAnalysis, error) {
	items, err := s.queryPrefix(ctx, userID, promptPrefix)
	if err != nil {
		return nil, err
	}

	analyses := make([]domain.PromptAnalysis, 0, len(items))
	for _, raw := range items {
		var it promptItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("unmarshal prompt: %w", err)
		}
		a, err := it.toAnalysis()
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	return analyses, nil
}

// queryPrefix reads every item in the user's partition whose SK starts with
// prefix, following pagination.
func (s *Store) queryPrefix(ctx context.Context, userID, prefix string) ([]map[string]types.AttributeValue, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(userPK(userID))).
		And(expression.Key("SK").BeginsWith(prefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func unmarshalChain(raw map[string]types.AttributeValue) (domain.ChainRecord, error) {
	var it chainItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return domain.ChainRecord{}, err
	}
	return it.toRecord()
}

func chainNotFound(userID string) error {
	return apperrors.NotFound(apperrors.CodeChainNotFound, "chain not found").
		WithOperation("ddb.FindChainByIdempotencyKey").
		WithUserID(userID).
		Build()
}

// classify maps DynamoDB errors onto AppErrors.
func classify(err error, operation, message string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(apperrors.CodeTimeout, message).WithOperation(operation).WithCause(err).Build()
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return apperrors.Conflict(apperrors.CodeIdempotencyConflict, message).
			WithOperation(operation).
			WithCause(err).
			Build()
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return apperrors.Conflict(apperrors.CodeIdempotencyConflict, message).
					WithOperation(operation).
					WithCause(err).
					Build()
			}
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if strings.Contains(code, "Throughput") || strings.Contains(code, "Throttl") || code == "RequestLimitExceeded" {
			return apperrors.Unavailable(apperrors.CodeServiceUnavailable, message).
				WithOperation(operation).
				WithDetails(code).
				WithCause(err).
				Build()
		}
		return apperrors.External(apperrors.CodeDynamoDBError, message).
			WithOperation(operation).
			WithDetails(code + ": " + apiErr.ErrorMessage()).
			WithCause(err).
			Build()
	}

	return apperrors.Internal(apperrors.CodeDynamoDBError, message).
		WithOperation(operation).
		WithCause(err).
		Build()
}
