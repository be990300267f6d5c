package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

// Factory creates request stores from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a store factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StoreFor creates a request store from a location URI.
//
// Supported schemes:
//   - memory:// - in-memory store, state lost on restart
//   - file:///var/lib/approvals - file-backed store rooted at the path
//   - dynamodb://[ACCESS_KEY:SECRET_KEY@]table-prefix/?region=eu-west-1&endpoint=http://localhost:8000
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *Factory) StoreFor(location interfaces.StoreLocation) (interfaces.RequestStore, error) {
	switch strings.ToLower(location.Scheme) {
	case "memory":
		return sf.createMemoryStore(location)
	case "file":
		return sf.createFileStore(location)
	case "dynamodb":
		return sf.createDynamoDBStore(location)
	default:
		return nil, fmt.Errorf("%w: unsupported store scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

func (sf *Factory) createMemoryStore(location interfaces.StoreLocation) (interfaces.RequestStore, error) {
	sf.log.Debug("Creating memory store", slog.String("uri", location.String()))
	return NewMemoryStore(sf.log), nil
}

// createFileStore creates a file-backed store.
// URI format: file:///absolute/path or file://./relative/path
func (sf *Factory) createFileStore(location interfaces.StoreLocation) (interfaces.RequestStore, error) {
	sf.log.Debug("Creating file store", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewFileStore(path, sf.log)
}

// createDynamoDBStore creates the DynamoDB-backed store. The host part is the
// table prefix; region, endpoint and credentials come from query parameters or
// the userinfo part of the URI.
func (sf *Factory) createDynamoDBStore(location interfaces.StoreLocation) (interfaces.RequestStore, error) {
	sf.log.Debug("Creating DynamoDB store", slog.String("uri", location.String()))

	tablePrefix := location.Host
	if tablePrefix == "" {
		return nil, fmt.Errorf("%w: missing table prefix in DynamoDB URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	region := location.GetParam("region")
	if region == "" {
		region = "eu-west-1"
	}
	endpoint := location.GetParam("endpoint")

	var accessKey, secretKey string
	if location.Auth != "" {
		parts := strings.SplitN(location.Auth, ":", 2)
		accessKey = parts[0]
		if len(parts) == 2 {
			secretKey = parts[1]
		}
		sf.log.Debug("Using embedded credentials for DynamoDB access")
	}

	return NewDynamoDBStore(tablePrefix, region, endpoint, accessKey, secretKey, sf.log)
}
