package database

import (
	"context"
	"errors"
	"espdesk/internal/config"
	"espdesk/internal/model"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoDB struct {
	client      *mongo.Client
	accountsCol *mongo.Collection
}

func NewMongo(cfg config.MongoDBConfig) (AccountDatabase, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	db := newMongoDB(client, client.Database(cfg.DB).Collection("accounts"))
	db.ensureIndexes(ctx)

	log.Info().Str("db", cfg.DB).Msg("Using MongoDB account store")

	return db, nil
}

func newMongoDB(client *mongo.Client, accountsCol *mongo.Collection) *mongoDB {
	return &mongoDB{client: client, accountsCol: accountsCol}
}

func (m *mongoDB) ensureIndexes(ctx context.Context) {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "provider", Value: 1}},
			Options: options.Index(),
		},
	}

	if _, err := m.accountsCol.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Str("collection", "accounts").Msg("Error creating indexes")
	}
}

// Health implements AccountDatabase
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := m.client.Ping(ctx, nil); err != nil {
		log.Error().Msgf("Database health error: %v", err)
		return err
	}
	return nil
}

func (m *mongoDB) ListAccounts(ctx context.Context) ([]model.Account, error) {
	findOptions := options.Find()
	findOptions.SetSort(bson.M{"created_at": -1})

	cursor, err := m.accountsCol.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		log.Error().Msgf("Error retrieving accounts: %v", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	accounts := []model.Account{}
	if err = cursor.All(ctx, &accounts); err != nil {
		log.Error().Msgf("Error decoding accounts: %v", err)
		return nil, err
	}

	return accounts, nil
}

func (m *mongoDB) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account

	err := m.accountsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		log.Error().Err(err).Str("accountId", id).Msg("Error retrieving account")
		return nil, err
	}

	return &account, nil
}

func (m *mongoDB) CreateAccount(ctx context.Context, account *model.Account) error {
	now := time.Now().UTC()
	if account.ID == "" {
		account.ID = newAccountID()
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := m.accountsCol.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.Error().Str("name", account.Name).Msg("Duplicate account detected")
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, account.Name)
		}

		log.Error().Msgf("Failed to create account: %v", err)
		return err
	}
	return nil
}

func (m *mongoDB) UpdateAccount(ctx context.Context, account *model.Account) error {
	account.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"name":            account.Name,
		"provider":        account.Provider,
		"api_key":         account.APIKey,
		"client_id":       account.ClientID,
		"client_secret":   account.ClientSecret,
		"publishable_key": account.PublishableKey,
		"secret_key":      account.SecretKey,
		"application_id":  account.ApplicationID,
		"updated_at":      account.UpdatedAt,
	}}

	result, err := m.accountsCol.UpdateOne(ctx, bson.M{"_id": account.ID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, account.Name)
		}
		log.Error().Msgf("Error updating account: %v", err)
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
	}

	return nil
}

func (m *mongoDB) DeleteAccount(ctx context.Context, id string) error {
	result, err := m.accountsCol.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Msgf("Error deleting account: %v", err)
		return err
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return nil
}

func (m *mongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
