package gatewaycustomers

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/asaas"
	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

// Service converges an account onto exactly one gateway customer.
type Service interface {
	EnsureForAccount(ctx context.Context, account *models.Account, taxID string) (string, error)
}

type gatewayClient interface {
	EnsureCustomer(ctx context.Context, input asaas.CustomerInput) (*asaas.Customer, error)
}

type repository interface {
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.GatewayCustomer, error)
	Create(ctx context.Context, accountID uuid.UUID, customerID, email string) (*models.GatewayCustomer, error)
}

type service struct {
	repo   repository
	client gatewayClient
	logg   *logger.Logger
}

// NewService builds the customer service.
func NewService(repo repository, client gatewayClient, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, errors.New(errors.CodeInternal, "gateway customer repository required")
	}
	if client == nil {
		return nil, errors.New(errors.CodeInternal, "gateway client required")
	}
	if logg == nil {
		return nil, errors.New(errors.CodeInternal, "logger required")
	}
	return &service{repo: repo, client: client, logg: logg}, nil
}

func (s *service) EnsureForAccount(ctx context.Context, account *models.Account, taxID string) (string, error) {
	if account == nil || account.ID == uuid.Nil {
		return "", errors.New(errors.CodeValidation, "account required")
	}
	ctx = s.logg.WithAccountID(ctx, account.ID.String())

	cached, err := s.repo.FindByAccountID(ctx, account.ID)
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, err, "load gateway customer")
	}
	if cached != nil {
		return cached.CustomerID, nil
	}

	name := strings.TrimSpace(account.DisplayName)
	if name == "" {
		name = account.Email
	}
	customer, err := s.client.EnsureCustomer(ctx, asaas.CustomerInput{
		Name:              name,
		Email:             account.Email,
		CpfCnpj:           strings.TrimSpace(taxID),
		ExternalReference: account.ID.String(),
	})
	if err != nil {
		return "", err
	}
	if customer == nil || strings.TrimSpace(customer.ID) == "" {
		return "", errors.New(errors.CodeGatewayRejected, "gateway customer id missing")
	}

	if _, err := s.repo.Create(ctx, account.ID, customer.ID, account.Email); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return "", errors.Wrap(errors.CodeInternal, err, "persist gateway customer")
		}
		// a concurrent request stored the mapping first
		existing, loadErr := s.repo.FindByAccountID(ctx, account.ID)
		if loadErr != nil || existing == nil {
			return "", errors.Wrap(errors.CodeInternal, err, "reload gateway customer")
		}
		return existing.CustomerID, nil
	}

	s.logg.Info(s.logg.WithField(ctx, "customer_id", customer.ID), "gateway customer linked")
	return customer.ID, nil
}
