package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

// Index names, matching the provisioned table definitions.
const (
	requesterEmailIndex = "RequesterEmailIndex"
	approverTokenIndex  = "ApproverTokenIndex"
)

// DynamoDBStore is the production RequestStore. It uses two tables:
//
//   - <prefix>-purchase-requests, keyed by requestId, with the
//     RequesterEmailIndex GSI (requesterEmail, createdAt);
//   - <prefix>-approvers, keyed by (requestId, approverEmail), with the
//     unique ApproverTokenIndex GSI (approverToken).
//
// Creation uses TransactWriteItems so the four-record batch is atomic; every
// status-mutating update carries a ConditionExpression on the record version.
type DynamoDBStore struct {
	svc            *dynamodb.DynamoDB
	requestsTable  string
	approversTable string
	log            *slog.Logger
}

// NewDynamoDBStore creates a DynamoDB-backed store. tablePrefix selects the
// table pair; region and endpoint configure the SDK (endpoint is used for
// DynamoDB Local). Credentials fall back to the SDK default chain when
// accessKey/secretKey are empty.
func NewDynamoDBStore(tablePrefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*DynamoDBStore, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &DynamoDBStore{
		svc:            dynamodb.New(sess),
		requestsTable:  tablePrefix + "-purchase-requests",
		approversTable: tablePrefix + "-approvers",
		log:            log,
	}, nil
}

// ddbRequest is the stored shape of a purchase request. Timestamps are
// RFC3339Nano strings so the RequesterEmailIndex sort key orders by creation
// time lexicographically.
type ddbRequest struct {
	RequestID      string   `dynamodbav:"requestId"`
	Title          string   `dynamodbav:"title"`
	Description    string   `dynamodbav:"description"`
	Amount         float64  `dynamodbav:"amount"`
	RequesterEmail string   `dynamodbav:"requesterEmail"`
	ApproverEmails []string `dynamodbav:"approverEmails"`
	Status         string   `dynamodbav:"requestStatus"`
	PdfEvidenceKey string   `dynamodbav:"pdfEvidenceKey,omitempty"`
	CreatedAt      string   `dynamodbav:"createdAt"`
	UpdatedAt      string   `dynamodbav:"updatedAt"`
	Version        uint64   `dynamodbav:"version"`
}

type ddbApprover struct {
	RequestID      string `dynamodbav:"requestId"`
	ApproverEmail  string `dynamodbav:"approverEmail"`
	ApproverToken  string `dynamodbav:"approverToken"`
	ApprovalOrder  int    `dynamodbav:"approvalOrder"`
	ApprovalStatus string `dynamodbav:"approvalStatus"`
	Otp            string `dynamodbav:"otp,omitempty"`
	OtpExpiration  string `dynamodbav:"otpExpiration,omitempty"`
	DecisionDate   string `dynamodbav:"decisionDate,omitempty"`
	SignatureName  string `dynamodbav:"signatureName,omitempty"`
	CreatedAt      string `dynamodbav:"createdAt"`
	UpdatedAt      string `dynamodbav:"updatedAt"`
	Version        uint64 `dynamodbav:"version"`
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func encodeTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return encodeTime(*t)
}

func decodeTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := decodeTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toDdbRequest(req *interfaces.PurchaseRequest) *ddbRequest {
	return &ddbRequest{
		RequestID:      req.RequestID.String(),
		Title:          req.Title,
		Description:    req.Description,
		Amount:         req.Amount,
		RequesterEmail: req.RequesterEmail,
		ApproverEmails: req.ApproverEmails,
		Status:         string(req.Status),
		PdfEvidenceKey: req.PdfEvidenceKey,
		CreatedAt:      encodeTime(req.CreatedAt),
		UpdatedAt:      encodeTime(req.UpdatedAt),
		Version:        req.Version,
	}
}

func fromDdbRequest(item *ddbRequest) (*interfaces.PurchaseRequest, error) {
	createdAt, err := decodeTime(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt createdAt on request %s: %w", item.RequestID, err)
	}
	updatedAt, err := decodeTime(item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updatedAt on request %s: %w", item.RequestID, err)
	}
	return &interfaces.PurchaseRequest{
		RequestID:      interfaces.RequestID(item.RequestID),
		Title:          item.Title,
		Description:    item.Description,
		Amount:         item.Amount,
		RequesterEmail: item.RequesterEmail,
		ApproverEmails: item.ApproverEmails,
		Status:         interfaces.RequestStatus(item.Status),
		PdfEvidenceKey: item.PdfEvidenceKey,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		Version:        item.Version,
	}, nil
}

func toDdbApprover(rec *interfaces.ApproverRecord) *ddbApprover {
	return &ddbApprover{
		RequestID:      rec.RequestID.String(),
		ApproverEmail:  rec.ApproverEmail,
		ApproverToken:  rec.ApproverToken.String(),
		ApprovalOrder:  rec.ApprovalOrder,
		ApprovalStatus: string(rec.ApprovalStatus),
		Otp:            rec.Otp,
		OtpExpiration:  encodeTimePtr(rec.OtpExpiration),
		DecisionDate:   encodeTimePtr(rec.DecisionDate),
		SignatureName:  rec.SignatureName,
		CreatedAt:      encodeTime(rec.CreatedAt),
		UpdatedAt:      encodeTime(rec.UpdatedAt),
		Version:        rec.Version,
	}
}

func fromDdbApprover(item *ddbApprover) (*interfaces.ApproverRecord, error) {
	createdAt, err := decodeTime(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt createdAt on approver %s/%s: %w", item.RequestID, item.ApproverEmail, err)
	}
	updatedAt, err := decodeTime(item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updatedAt on approver %s/%s: %w", item.RequestID, item.ApproverEmail, err)
	}
	otpExpiration, err := decodeTimePtr(item.OtpExpiration)
	if err != nil {
		return nil, fmt.Errorf("corrupt otpExpiration on approver %s/%s: %w", item.RequestID, item.ApproverEmail, err)
	}
	decisionDate, err := decodeTimePtr(item.DecisionDate)
	if err != nil {
		return nil, fmt.Errorf("corrupt decisionDate on approver %s/%s: %w", item.RequestID, item.ApproverEmail, err)
	}
	return &interfaces.ApproverRecord{
		RequestID:      interfaces.RequestID(item.RequestID),
		ApproverEmail:  item.ApproverEmail,
		ApproverToken:  interfaces.ApproverToken(item.ApproverToken),
		ApprovalOrder:  item.ApprovalOrder,
		ApprovalStatus: interfaces.ApprovalStatus(item.ApprovalStatus),
		Otp:            item.Otp,
		OtpExpiration:  otpExpiration,
		DecisionDate:   decisionDate,
		SignatureName:  item.SignatureName,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		Version:        item.Version,
	}, nil
}

// CreateRequest writes the request and its approver records in one
// TransactWriteItems call; each Put is conditioned on the key not existing.
func (d *DynamoDBStore) CreateRequest(ctx context.Context, req *interfaces.PurchaseRequest, approvers []*interfaces.ApproverRecord) error {
	reqItem, err := dynamodbattribute.MarshalMap(toDdbRequest(req))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	items := []*dynamodb.TransactWriteItem{
		{
			Put: &dynamodb.Put{
				TableName:           aws.String(d.requestsTable),
				Item:                reqItem,
				ConditionExpression: aws.String("attribute_not_exists(requestId)"),
			},
		},
	}
	for _, rec := range approvers {
		recItem, err := dynamodbattribute.MarshalMap(toDdbApprover(rec))
		if err != nil {
			return fmt.Errorf("failed to marshal approver record: %w", err)
		}
		items = append(items, &dynamodb.TransactWriteItem{
			Put: &dynamodb.Put{
				TableName:           aws.String(d.approversTable),
				Item:                recItem,
				ConditionExpression: aws.String("attribute_not_exists(requestId)"),
			},
		})
	}

	_, err = d.svc.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		d.log.Error("Failed to write creation batch", "err", err,
			slog.String("requestID", req.RequestID.String()))
		return mapDynamoError(err)
	}
	return nil
}

// GetRequest retrieves a purchase request by id.
func (d *DynamoDBStore) GetRequest(ctx context.Context, id interfaces.RequestID) (*interfaces.PurchaseRequest, error) {
	out, err := d.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.requestsTable),
		Key:            requestKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapDynamoError(err)
	}
	if out.Item == nil {
		return nil, interfaces.ErrRequestNotFound
	}

	var item ddbRequest
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return fromDdbRequest(&item)
}

// ListRequestsByRequester queries the RequesterEmailIndex; the createdAt sort
// key yields creation-time order.
func (d *DynamoDBStore) ListRequestsByRequester(ctx context.Context, requesterEmail string) ([]*interfaces.PurchaseRequest, error) {
	out, err := d.svc.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.requestsTable),
		IndexName:              aws.String(requesterEmailIndex),
		KeyConditionExpression: aws.String("requesterEmail = :email"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":email": {S: aws.String(requesterEmail)},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, mapDynamoError(err)
	}

	reqs := make([]*interfaces.PurchaseRequest, 0, len(out.Items))
	for _, raw := range out.Items {
		var item ddbRequest
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request: %w", err)
		}
		req, err := fromDdbRequest(&item)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// GetApproverByToken queries the unique ApproverTokenIndex.
func (d *DynamoDBStore) GetApproverByToken(ctx context.Context, token interfaces.ApproverToken) (*interfaces.ApproverRecord, error) {
	out, err := d.svc.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.approversTable),
		IndexName:              aws.String(approverTokenIndex),
		KeyConditionExpression: aws.String("approverToken = :token"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":token": {S: aws.String(token.String())},
		},
		Limit: aws.Int64(1),
	})
	if err != nil {
		return nil, mapDynamoError(err)
	}
	if len(out.Items) == 0 {
		return nil, interfaces.ErrTokenNotFound
	}

	var item ddbApprover
	if err := dynamodbattribute.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approver record: %w", err)
	}
	// GSI reads are eventually consistent; re-read the base table so version
	// checks see the latest record.
	return d.getApprover(ctx, interfaces.RequestID(item.RequestID), item.ApproverEmail)
}

func (d *DynamoDBStore) getApprover(ctx context.Context, id interfaces.RequestID, email string) (*interfaces.ApproverRecord, error) {
	out, err := d.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.approversTable),
		Key:            approverDdbKey(id, email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapDynamoError(err)
	}
	if out.Item == nil {
		return nil, interfaces.ErrTokenNotFound
	}

	var item ddbApprover
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approver record: %w", err)
	}
	return fromDdbApprover(&item)
}

// ListApprovers queries the approvers table by requestId and sorts by approval
// order.
func (d *DynamoDBStore) ListApprovers(ctx context.Context, id interfaces.RequestID) ([]*interfaces.ApproverRecord, error) {
	out, err := d.svc.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.approversTable),
		KeyConditionExpression: aws.String("requestId = :rid"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":rid": {S: aws.String(id.String())},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapDynamoError(err)
	}
	if len(out.Items) == 0 {
		return nil, interfaces.ErrRequestNotFound
	}

	recs := make([]*interfaces.ApproverRecord, 0, len(out.Items))
	for _, raw := range out.Items {
		var item ddbApprover
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal approver record: %w", err)
		}
		rec, err := fromDdbApprover(&item)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ApprovalOrder < recs[j].ApprovalOrder })
	return recs, nil
}

// UpdateApprover replaces the record, conditioned on the stored version.
func (d *DynamoDBStore) UpdateApprover(ctx context.Context, record *interfaces.ApproverRecord, expectedVersion uint64) error {
	record.Version = expectedVersion + 1
	item, err := dynamodbattribute.MarshalMap(toDdbApprover(record))
	if err != nil {
		record.Version = expectedVersion
		return fmt.Errorf("failed to marshal approver record: %w", err)
	}

	_, err = d.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.approversTable),
		Item:                item,
		ConditionExpression: aws.String("version = :expected"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":expected": {N: aws.String(fmt.Sprintf("%d", expectedVersion))},
		},
	})
	if err != nil {
		record.Version = expectedVersion
		return mapDynamoError(err)
	}
	return nil
}

// UpdateRequestStatus transitions the overall status, conditioned on the
// previously observed status and version.
func (d *DynamoDBStore) UpdateRequestStatus(ctx context.Context, id interfaces.RequestID, from, to interfaces.RequestStatus, evidenceKey string, expectedVersion uint64) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, from, to)
	}

	update := "SET requestStatus = :to, updatedAt = :ua, version = :newVersion"
	values := map[string]*dynamodb.AttributeValue{
		":from":       {S: aws.String(string(from))},
		":to":         {S: aws.String(string(to))},
		":ua":         {S: aws.String(encodeTime(time.Now()))},
		":expected":   {N: aws.String(fmt.Sprintf("%d", expectedVersion))},
		":newVersion": {N: aws.String(fmt.Sprintf("%d", expectedVersion+1))},
	}
	if evidenceKey != "" {
		update += ", pdfEvidenceKey = :evidence"
		values[":evidence"] = &dynamodb.AttributeValue{S: aws.String(evidenceKey)}
	}

	_, err := d.svc.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.requestsTable),
		Key:                       requestKey(id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("requestStatus = :from AND version = :expected"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return mapDynamoError(err)
	}
	return nil
}

// ListApproverContacts scans the approvers table with a projection. A scan is
// acceptable here: the listing backs the mock-mail endpoint only.
func (d *DynamoDBStore) ListApproverContacts(ctx context.Context) ([]interfaces.ApproverContact, error) {
	out := []interfaces.ApproverContact{}
	input := &dynamodb.ScanInput{
		TableName:            aws.String(d.approversTable),
		ProjectionExpression: aws.String("requestId, approverEmail, approverToken"),
	}
	err := d.svc.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		for _, raw := range page.Items {
			var item ddbApprover
			if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
				continue
			}
			out = append(out, interfaces.ApproverContact{
				RequestID:     interfaces.RequestID(item.RequestID),
				ApproverEmail: item.ApproverEmail,
				ApproverToken: interfaces.ApproverToken(item.ApproverToken),
			})
		}
		return true
	})
	if err != nil {
		return nil, mapDynamoError(err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestID != out[j].RequestID {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].ApproverEmail < out[j].ApproverEmail
	})
	return out, nil
}

// Available checks table accessibility.
func (d *DynamoDBStore) Available(ctx context.Context) bool {
	_, err := d.svc.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.requestsTable),
	})
	if err != nil {
		d.log.Warn("DynamoDB store unavailable", "err", err,
			slog.String("table", d.requestsTable))
		return false
	}
	return true
}

// Name returns an identifier for logging.
func (d *DynamoDBStore) Name() string {
	return fmt.Sprintf("dynamodb-%s", d.requestsTable)
}

func requestKey(id interfaces.RequestID) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"requestId": {S: aws.String(id.String())},
	}
}

func approverDdbKey(id interfaces.RequestID, email string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"requestId":     {S: aws.String(id.String())},
		"approverEmail": {S: aws.String(email)},
	}
}

// mapDynamoError folds SDK failures into the store error taxonomy: condition
// failures become ErrConflict, everything else is a store fault.
func mapDynamoError(err error) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case dynamodb.ErrCodeConditionalCheckFailedException,
			dynamodb.ErrCodeTransactionCanceledException,
			dynamodb.ErrCodeTransactionConflictException:
			return fmt.Errorf("%w: %v", interfaces.ErrConflict, aerr.Code())
		case dynamodb.ErrCodeResourceNotFoundException:
			return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, aerr.Message())
		}
	}
	return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
}
